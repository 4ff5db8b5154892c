package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(connected, reconnectAttempts, tokenRefreshFailures, transportErrors, malformedFrames)
}

var (
	connected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "viewcomfy_connected",
		Help: "1 while the realtime session holds an accepted connection.",
	})

	reconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "viewcomfy_reconnect_attempts_total",
		Help: "Reconnect attempts made by the realtime session.",
	})

	tokenRefreshFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "viewcomfy_token_refresh_failures_total",
		Help: "Token fetches that failed or came back empty during a reconnect attempt.",
	})

	transportErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "viewcomfy_transport_errors_total",
		Help: "Dial, handshake and read errors on the realtime transport.",
	})

	malformedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "viewcomfy_malformed_frames_total",
		Help: "Frames that could not be decoded and were dropped.",
	})
)

func SetConnected(v bool) {
	if v {
		connected.Set(1)
		return
	}
	connected.Set(0)
}

func IncReconnectAttempt()    { reconnectAttempts.Inc() }
func IncTokenRefreshFailure() { tokenRefreshFailures.Inc() }
func IncTransportError()      { transportErrors.Inc() }
func IncMalformedFrame()      { malformedFrames.Inc() }
