package nodeprotocol

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meltforce/cast2md/internal/dbctx"
	"github.com/meltforce/cast2md/internal/domain"
	"github.com/meltforce/cast2md/internal/logger"
	"github.com/meltforce/cast2md/internal/repos"
)

const nodeContextKey = "nodeprotocol.node"

// AuthMiddleware verifies the X-Transcriber-Key bearer header against the
// node registry. Every mutating node endpoint except register requires it.
type AuthMiddleware struct {
	log      *logger.Logger
	nodeRepo repos.NodeRepo
}

func NewAuthMiddleware(baseLog *logger.Logger, nodeRepo repos.NodeRepo) *AuthMiddleware {
	return &AuthMiddleware{log: baseLog.With("component", "nodeprotocol.AuthMiddleware"), nodeRepo: nodeRepo}
}

// RequireNode authenticates the bearer token and, as a side effect, bumps
// the node's last_heartbeat on every authenticated call — not just the
// explicit heartbeat endpoint.
func (m *AuthMiddleware) RequireNode() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.authenticate(c) {
			c.Abort()
			return
		}
		c.Next()
	}
}

// authenticate validates the X-Transcriber-Key header against the node
// registry, bumps the node's heartbeat, and stashes it in the context. It
// writes the error response itself and returns false on any failure, so
// callers (RequireNode, and Dispatch's inline checks) just need to stop
// processing when it returns false.
func (m *AuthMiddleware) authenticate(c *gin.Context) bool {
	key := c.GetHeader("X-Transcriber-Key")
	if key == "" {
		respondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return false
	}

	dbc := dbctx.New(c.Request.Context())
	node, err := m.nodeRepo.Authenticate(dbc, key)
	if err != nil {
		m.log.Warn("authenticate node failed", "error", err)
		respondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return false
	}
	if node == nil {
		respondError(c, http.StatusUnauthorized, "unauthorized", nil)
		return false
	}

	if err := m.nodeRepo.UpdateHeartbeat(dbc, node.ID); err != nil {
		m.log.Warn("update heartbeat failed", "node_id", node.ID, "error", err)
	}

	c.Set(nodeContextKey, node)
	return true
}

func nodeFromContext(c *gin.Context) *domain.WorkerNode {
	v, ok := c.Get(nodeContextKey)
	if !ok {
		return nil
	}
	node, _ := v.(*domain.WorkerNode)
	return node
}
