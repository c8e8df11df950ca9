package nodeprotocol

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Dispatch serves the entire node protocol surface behind a single gin
// catch-all route. gin's route tree panics at registration time if a
// wildcard segment (":id") ever shares a tree node with static siblings
// ("register", "jobs") — which the spec's own path table requires directly
// under /api/nodes/. Routing these eight paths by hand here, instead of as
// nested gin routes, sidesteps that conflict entirely while leaving every
// handler method's signature and c.Param usage untouched.
func Dispatch(h *Handlers, mw *AuthMiddleware) gin.HandlerFunc {
	return func(c *gin.Context) {
		segments := strings.Split(strings.Trim(c.Param("nodepath"), "/"), "/")
		if len(segments) == 0 || segments[0] == "" {
			c.Status(http.StatusNotFound)
			return
		}

		switch {
		case segments[0] == "register" && len(segments) == 1 && c.Request.Method == http.MethodPost:
			h.Register(c)
			return

		case segments[0] == "jobs" && len(segments) == 3:
			setParam(c, "job_id", segments[1])
			action := segments[2]
			switch {
			case action == "audio" && c.Request.Method == http.MethodGet:
				if !mw.authenticate(c) {
					return
				}
				h.FetchAudio(c)
				return
			case action == "progress" && c.Request.Method == http.MethodPost:
				if !mw.authenticate(c) {
					return
				}
				h.Progress(c)
				return
			case action == "complete" && c.Request.Method == http.MethodPost:
				if !mw.authenticate(c) {
					return
				}
				h.Complete(c)
				return
			case action == "fail" && c.Request.Method == http.MethodPost:
				if !mw.authenticate(c) {
					return
				}
				h.Fail(c)
				return
			case action == "release" && c.Request.Method == http.MethodPost:
				if !mw.authenticate(c) {
					return
				}
				h.Release(c)
				return
			}

		case len(segments) == 2 && c.Request.Method == http.MethodPost:
			setParam(c, "id", segments[0])
			switch segments[1] {
			case "heartbeat":
				if !mw.authenticate(c) {
					return
				}
				h.Heartbeat(c)
				return
			case "claim":
				if !mw.authenticate(c) {
					return
				}
				h.Claim(c)
				return
			}
		}

		c.Status(http.StatusNotFound)
	}
}

// setParam injects a path parameter into the gin context as if it had come
// from a normal ":name" route registration, so handler methods written
// against c.Param keep working under manual dispatch.
func setParam(c *gin.Context, key, value string) {
	c.Params = append(c.Params, gin.Param{Key: key, Value: value})
}
