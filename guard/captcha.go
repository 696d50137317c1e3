package guard

import "net/http"

// Captcha is the human-verification collaborator. Challenge generation and
// rendering are fully external; the guard only needs to know whether a
// request targets the challenge endpoint (which is always exempt from the
// password gates) and whether a submission passed.
type Captcha interface {
	IsChallengeEndpoint(r *http.Request) bool
	Validate(r *http.Request) bool
}
