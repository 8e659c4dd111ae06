package web

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"
)

// Handler wires the API. logs and ctl may be nil.
func Handler(status *Status, b *Broadcaster, logs *LogBuffer, ctl Controller) http.Handler {
	if status == nil {
		status = NewStatus()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, status.Snapshot(time.Now().UTC(), ctl, b))
	})

	mux.HandleFunc("/api/state", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if ctl != nil {
			writeJSON(w, ctl.Snapshot())
			return
		}
		st, _ := b.Last()
		writeJSON(w, st)
	})

	mux.HandleFunc("/api/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if ctl == nil {
			http.Error(w, "fusion unavailable", http.StatusNotFound)
			return
		}
		ctl.Reset()
		status.MarkReset()
		log.Printf("web: session reset from %s", r.RemoteAddr)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{\"ok\":true}\n"))
	})

	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}
	mux.Handle("/api/about", AboutHandler())

	if b != nil {
		mux.Handle("/ws", stateStream{b: b})
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(indexHTML))
	})

	return mux
}

// Serve runs the HTTP API until ctx is done.
func Serve(ctx context.Context, listenAddr string, status *Status, b *Broadcaster, logs *LogBuffer, ctl Controller) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           Handler(status, b, logs, ctl),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Printf("web: listening on %s", listenAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

const indexHTML = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>indoornav</title>
<style>
body { font-family: sans-serif; margin: 1em; }
canvas { border: 1px solid #999; }
td { padding: 0 1em 0 0; }
</style>
</head>
<body>
<h1>indoornav</h1>
<table>
<tr><td>heading</td><td id="heading">-</td></tr>
<tr><td>position</td><td id="pos">-</td></tr>
<tr><td>steps</td><td id="steps">-</td></tr>
<tr><td>stride</td><td id="stride">-</td></tr>
</table>
<p><button id="reset">Reset</button> <a href="/api/status">status</a> <a href="/api/logs?format=text">logs</a></p>
<canvas id="track" width="480" height="480"></canvas>
<script>
const cv = document.getElementById("track");
const g = cv.getContext("2d");
const scale = 10;
let path = [];
function draw() {
  g.clearRect(0, 0, cv.width, cv.height);
  g.beginPath();
  path.forEach((p, i) => {
    const x = cv.width / 2 + p[0] * scale, y = cv.height / 2 - p[1] * scale;
    if (i === 0) g.moveTo(x, y); else g.lineTo(x, y);
  });
  g.stroke();
}
function show(st) {
  document.getElementById("heading").textContent = st.heading_deg.toFixed(1) + "°";
  document.getElementById("pos").textContent = st.x.toFixed(2) + ", " + st.y.toFixed(2) + " m";
  document.getElementById("steps").textContent = st.steps;
  document.getElementById("stride").textContent = st.stride.toFixed(2) + " m";
  const last = path[path.length - 1];
  if (!last || last[0] !== st.x || last[1] !== st.y) { path.push([st.x, st.y]); draw(); }
}
function connect() {
  const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
  ws.onmessage = (ev) => show(JSON.parse(ev.data));
  ws.onclose = () => setTimeout(connect, 1000);
}
document.getElementById("reset").onclick = () => {
  fetch("/api/reset", {method: "POST"}).then(() => { path = []; draw(); });
};
connect();
</script>
</body>
</html>
`
