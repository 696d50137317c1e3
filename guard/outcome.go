package guard

// Gate identifies which password gate produced a login prompt.
type Gate string

const (
	GateSite  Gate = "site"
	GateAdmin Gate = "admin"
)

// LoginPrompt carries everything the rendering layer needs to present a
// login form for one gate.
type LoginPrompt struct {
	Gate           Gate
	Error          string
	RequireCaptcha bool
	CSRFToken      string
}

// Outcome is the guard's decision for one request. Exactly one of the
// following holds: Allow is true and the request proceeds; Prompt is non-nil
// and a login form must be rendered; or Status/Body describe a terminal
// plain response (e.g. the IP allowlist rejection).
type Outcome struct {
	Allow  bool
	Status int
	Body   string
	Prompt *LoginPrompt
}

func allow() Outcome {
	return Outcome{Allow: true}
}

func reject(status int, body string) Outcome {
	return Outcome{Status: status, Body: body}
}

func prompt(p LoginPrompt) Outcome {
	return Outcome{Prompt: &p}
}
