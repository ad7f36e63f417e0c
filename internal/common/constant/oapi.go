package constant

const (
	OAPI_TAG_MISC         = "Miscellaneous"
	OAPI_TAG_SENSORS      = "Sensors"
	OAPI_SPEC_UI          = `<!doctypehtml><title>API Reference</title><meta charset=utf-8><meta content="width=device-width,initial-scale=1"name=viewport><body><script data-url=/openapi.json id=api-reference></script><script src=https://cdn.jsdelivr.net/npm/@scalar/api-reference></script>`
	OAPI_SPEC_DESCRIPTION = `
Heart sensor broker. Polls the connected biometric sensors (ECG, PPG, heart rate,
galvanic skin response) and fans every batch of samples out to live clients.

Live endpoints (not described by this document):
- ` + "`GET /data`" + ` Server-Sent-Events stream, one ` + "`data:`" + ` frame per sample batch
- ` + "`GET /ws`" + ` the same frames over a websocket
`
)

const (
	SSE_PATH       = "/data"
	WEBSOCKET_PATH = "/ws"
	METRICS_PATH   = "/metrics"
)
