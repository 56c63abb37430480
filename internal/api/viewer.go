package api

import "net/http"

// handleIndex serves the built-in viewer page: connects to the frame stream
// and forwards pointer/keyboard input to the control API.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>browsercast</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            background: #111;
            color: #ccc;
            font-family: system-ui, -apple-system, sans-serif;
            display: flex;
            flex-direction: column;
            height: 100vh;
        }
        .toolbar {
            display: flex;
            gap: 6px;
            padding: 8px;
            background: #1c1c1c;
        }
        .toolbar button {
            background: #2d2d2d;
            color: #ccc;
            border: none;
            border-radius: 4px;
            padding: 6px 10px;
            cursor: pointer;
        }
        .toolbar button:hover { background: #3a3a3a; }
        .toolbar input {
            flex: 1;
            background: #2d2d2d;
            color: #eee;
            border: none;
            border-radius: 4px;
            padding: 6px 10px;
        }
        .viewport {
            flex: 1;
            display: flex;
            justify-content: center;
            align-items: center;
            overflow: hidden;
        }
        #frame {
            max-width: 100%;
            max-height: 100%;
            cursor: crosshair;
        }
        .statusbar {
            padding: 4px 8px;
            background: #1c1c1c;
            font-size: 12px;
            color: #777;
        }
    </style>
</head>
<body>
    <div class="toolbar">
        <button onclick="post('/api/back')">&#8592;</button>
        <button onclick="post('/api/forward')">&#8594;</button>
        <button onclick="post('/api/refresh')">&#10227;</button>
        <input id="address" placeholder="Enter address" onkeydown="if(event.key==='Enter')navigate()">
        <button onclick="navigate()">Go</button>
    </div>
    <div class="viewport">
        <img id="frame" alt="browsercast stream" tabindex="0">
    </div>
    <div class="statusbar" id="status">connecting&#8230;</div>
    <script>
        const img = document.getElementById('frame');
        const status = document.getElementById('status');
        let seq = 0;

        function connect() {
            const proto = location.protocol === 'https:' ? 'wss' : 'ws';
            const ws = new WebSocket(proto + '://' + location.host + '/api/stream');
            ws.onmessage = (ev) => {
                const msg = JSON.parse(ev.data);
                if (msg.type !== 'frame') return;
                seq = msg.seq;
                img.src = 'data:image/jpeg;base64,' + msg.data;
                status.textContent = 'frame ' + seq + ' (session ' + msg.session.slice(0, 8) + ')';
            };
            ws.onclose = () => {
                status.textContent = 'disconnected, retrying…';
                setTimeout(connect, 1000);
            };
        }
        connect();

        function post(path, body) {
            return fetch(path, {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify(body || {})
            });
        }

        function navigate() {
            const url = document.getElementById('address').value.trim();
            if (!url) return;
            post('/api/navigate', { url: url })
                .then(r => r.json())
                .then(data => {
                    if (data.url) document.getElementById('address').value = data.url;
                });
        }

        img.addEventListener('click', (ev) => {
            const rect = img.getBoundingClientRect();
            const x = (ev.clientX - rect.left) * (img.naturalWidth / rect.width);
            const y = (ev.clientY - rect.top) * (img.naturalHeight / rect.height);
            post('/api/click', { x: x, y: y });
            img.focus();
        });

        img.addEventListener('wheel', (ev) => {
            ev.preventDefault();
            post('/api/scroll', { delta_y: ev.deltaY });
        }, { passive: false });

        img.addEventListener('keydown', (ev) => {
            if (ev.key.length === 1) {
                post('/api/type', { text: ev.key });
            } else {
                post('/api/key', { key: ev.key });
            }
            ev.preventDefault();
        });
    </script>
</body>
</html>`
	w.Write([]byte(html))
}
