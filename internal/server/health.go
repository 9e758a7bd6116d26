package server

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/UkemeSkywalker/Quanta/internal/protocol"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.HealthResponse{
		Status:  "healthy",
		Service: ServiceName,
		Process: s.processInfo(),
	})
}

// processInfo samples the serving process. Stats the platform cannot provide
// are left zero; a process that cannot be inspected at all yields nil.
func (s *Server) processInfo() *protocol.ProcessInfo {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.log.Debug().Err(err).Msg("process stats unavailable")
		return nil
	}
	info := &protocol.ProcessInfo{
		PID:        p.Pid,
		Goroutines: runtime.NumGoroutine(),
		UptimeSec:  time.Since(s.started).Seconds(),
	}
	if mem, err := p.MemoryInfo(); err == nil {
		info.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		info.CPUPercent = cpu
	}
	return info
}
