package node

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/vorpalengineering/usdc-market/types"
	"github.com/vorpalengineering/usdc-market/utils"
)

// maxAccountCallWindow bounds how far past chain time a signed call's
// deadline may sit, and so how long the replay cache holds each digest.
const maxAccountCallWindow = 600

// callCache remembers signed account calls until their deadline passes.
type callCache struct {
	mu   sync.Mutex
	seen map[common.Hash]uint64
}

func newCallCache() *callCache {
	return &callCache{seen: make(map[common.Hash]uint64)}
}

// use records digest and reports whether it was unseen.
func (c *callCache) use(digest common.Hash, deadline, now uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for d, exp := range c.seen {
		if exp < now {
			delete(c.seen, d)
		}
	}
	if _, ok := c.seen[digest]; ok {
		return false
	}
	c.seen[digest] = deadline
	return true
}

// accountAuth requires the account named by the body's "from" field to have
// signed this exact request. The body is restored for the handler.
func (n *Node) accountAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			badRequest(c, err)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		var named struct {
			From common.Address `json:"from"`
		}
		if err := json.Unmarshal(body, &named); err != nil {
			badRequest(c, err)
			return
		}

		deadline, err := strconv.ParseUint(c.GetHeader(types.AccountDeadlineHeader), 10, 64)
		if err != nil {
			abortAccountCall(c, http.StatusUnauthorized, "missing_account_signature",
				types.AccountDeadlineHeader+" must be a unix timestamp")
			return
		}
		sig, err := hexutil.Decode(c.GetHeader(types.AccountSignatureHeader))
		if err != nil {
			abortAccountCall(c, http.StatusUnauthorized, "missing_account_signature",
				types.AccountSignatureHeader+" must be a hex signature")
			return
		}

		now := n.chain.Now(c.Request.Context())
		if deadline < now || deadline > now+maxAccountCallWindow {
			abortAccountCall(c, http.StatusUnauthorized, "account_call_expired",
				"signed call deadline is outside the accepted window")
			return
		}

		call := &types.AccountCall{
			From:     named.From,
			Method:   c.Request.Method,
			Path:     c.Request.URL.Path,
			BodyHash: crypto.Keccak256Hash(body),
			Deadline: deadline,
		}
		digest, err := utils.HashAccountCall(n.callDomain, call)
		if err != nil {
			abortWithError(c, err)
			return
		}
		signer, err := utils.RecoverSigner(digest, sig)
		if err != nil || signer != named.From {
			abortAccountCall(c, http.StatusForbidden, "account_signer_mismatch",
				"signature does not recover to "+named.From.Hex())
			return
		}
		if !n.calls.use(digest, deadline, now) {
			abortAccountCall(c, http.StatusConflict, "account_call_replayed",
				"signed call was already used")
			return
		}
		c.Next()
	}
}

func abortAccountCall(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, types.ErrorResponse{
		Error:   code,
		Message: message,
		Class:   types.ClassAuthorization,
	})
}
