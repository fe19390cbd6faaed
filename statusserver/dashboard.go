package statusserver

import "net/http"

// dashboardHandler serves a minimal static HTML view of /status and /pools.
func (s *Server) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}

const dashboardHTML = `<!DOCTYPE html>
<html>
<head><title>pgclient pool status</title></head>
<body>
<h1>pgclient pool status</h1>
<pre id="status">loading...</pre>
<h2>pools</h2>
<pre id="pools">loading...</pre>
<script>
async function refresh() {
  document.getElementById('status').textContent = JSON.stringify(await (await fetch('/status')).json(), null, 2);
  document.getElementById('pools').textContent = JSON.stringify(await (await fetch('/pools')).json(), null, 2);
}
refresh();
setInterval(refresh, 5000);
</script>
</body>
</html>
`
