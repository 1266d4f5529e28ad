package buildserver

import (
	"fmt"
	"net/http"
)

// healthHandler reports liveness together with the size of the snapshot
// being served.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
	sess := s.snapshot.Load()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK buildsets=%d served=%d\n", len(sess.BuildSets()), s.served.Load())
}
