package handlers

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	arborlevels "github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/claviger/internal/common"
)

// defaultExcludePatterns suppresses the chatter the broadcast path itself
// produces; without these each relayed entry would log, relay, and log again.
var defaultExcludePatterns = []string{
	"WebSocket client connected",
	"WebSocket client disconnected",
	"HTTP request",
	"HTTP response",
	"Publishing event",
}

// LogRelay consumes log batches from arbor's context channel and broadcasts
// the entries that pass the level and pattern filters to WebSocket clients.
type LogRelay struct {
	handler         *WebSocketHandler
	logger          arbor.ILogger
	channel         chan []arbormodels.LogEvent
	done            chan struct{}
	closeOnce       sync.Once
	wg              sync.WaitGroup
	minLevel        arbor.LogLevel
	excludePatterns []string
}

// NewLogRelay creates a log relay for the WebSocket handler. A nil config
// falls back to info level and the default exclude patterns.
func NewLogRelay(handler *WebSocketHandler, wsConfig *common.WebSocketConfig, logger arbor.ILogger) *LogRelay {
	minLevel := arbor.InfoLevel
	excludePatterns := defaultExcludePatterns

	if wsConfig != nil {
		minLevel = parseLogLevel(wsConfig.MinLevel)
		if len(wsConfig.ExcludePatterns) > 0 {
			excludePatterns = wsConfig.ExcludePatterns
		}
	}

	return &LogRelay{
		handler:         handler,
		logger:          logger,
		channel:         make(chan []arbormodels.LogEvent, 10),
		done:            make(chan struct{}),
		minLevel:        minLevel,
		excludePatterns: excludePatterns,
	}
}

// Channel returns the channel arbor sends log batches to
func (r *LogRelay) Channel() chan []arbormodels.LogEvent {
	return r.channel
}

// Start launches the relay goroutine
func (r *LogRelay) Start() error {
	r.wg.Add(1)
	go r.consume()
	return nil
}

// Stop shuts the relay down and waits for the goroutine to exit
func (r *LogRelay) Stop() error {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
	return nil
}

func (r *LogRelay) consume() {
	defer r.wg.Done()

	// The relay must never take the application down over a malformed entry
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("panic", fmt.Sprintf("%v", rec)).
				Msg("Log relay panic recovered")
		}
	}()

	for {
		select {
		case batch, ok := <-r.channel:
			if !ok {
				return
			}
			for _, event := range batch {
				if !r.shouldRelay(event) {
					continue
				}
				r.handler.BroadcastLog(LogEntry{
					Timestamp: event.Timestamp.Format("15:04:05"),
					Level:     levelLabel(arborlevels.FromLogLevel(event.Level)),
					Message:   event.Message,
				})
			}
		case <-r.done:
			return
		}
	}
}

func (r *LogRelay) shouldRelay(event arbormodels.LogEvent) bool {
	if arborlevels.FromLogLevel(event.Level) < r.minLevel {
		return false
	}
	for _, pattern := range r.excludePatterns {
		if strings.Contains(event.Message, pattern) {
			return false
		}
	}
	return true
}

// parseLogLevel converts a config level string to an arbor level
func parseLogLevel(level string) arbor.LogLevel {
	switch strings.ToLower(level) {
	case "error":
		return arbor.ErrorLevel
	case "warn", "warning":
		return arbor.WarnLevel
	case "info":
		return arbor.InfoLevel
	case "debug":
		return arbor.DebugLevel
	default:
		return arbor.InfoLevel
	}
}

// levelLabel maps arbor log levels to the UI's lowercase labels
func levelLabel(level arbor.LogLevel) string {
	switch level {
	case arbor.ErrorLevel:
		return "error"
	case arbor.WarnLevel:
		return "warn"
	case arbor.InfoLevel:
		return "info"
	case arbor.DebugLevel:
		return "debug"
	default:
		return "info"
	}
}
