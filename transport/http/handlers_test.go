package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thomas-lamb-tech/permit"
	"github.com/thomas-lamb-tech/permit/bank"
	"github.com/thomas-lamb-tech/permit/signer"
	transporthttp "github.com/thomas-lamb-tech/permit/transport/http"
)

// Well-known test key (anvil account #0).
const ownerKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	tokenAddr     = common.HexToAddress("0x00000000000000000000000000000000000000Aa")
	callerAddr    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	recipientAddr = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type testServer struct {
	router *gin.Engine
	signer *signer.Signer
	ledger *bank.Ledger
	owner  common.Address
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	domain, err := permit.NewDomain("Permit2", "1", big.NewInt(8453),
		common.HexToAddress("0x000000000022D473030F116dDEE9F6B43aC78BA3"))
	require.NoError(t, err)

	ledger := bank.NewLedger()
	engine := permit.NewSignatureTransfer(domain, permit.NewMemoryStore(), ledger)
	handlers := transporthttp.NewHandlers(engine, ledger, zap.NewNop())

	sg, err := signer.NewFromPrivateKey(ownerKeyHex, domain)
	require.NoError(t, err)

	return &testServer{
		router: transporthttp.SetupRouter(handlers, zap.NewNop()),
		signer: sg,
		ledger: ledger,
		owner:  sg.Address(),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Code
}

func (s *testServer) transferBody(t *testing.T, nonce int64, deadline int64) map[string]interface{} {
	t.Helper()

	p := permit.PermitTransferFrom{
		Permitted: permit.TokenPermissions{Token: tokenAddr, Amount: big.NewInt(100)},
		Spender:   callerAddr,
		Nonce:     big.NewInt(nonce),
		Deadline:  big.NewInt(deadline),
	}
	sig, err := s.signer.SignPermitTransferFrom(p)
	require.NoError(t, err)

	return map[string]interface{}{
		"permit": map[string]string{
			"token":        tokenAddr.Hex(),
			"spender":      callerAddr.Hex(),
			"signedAmount": "100",
			"nonce":        fmt.Sprintf("%d", nonce),
			"deadline":     fmt.Sprintf("%d", deadline),
		},
		"transfer": map[string]string{
			"recipient":       recipientAddr.Hex(),
			"requestedAmount": "100",
		},
		"owner":     s.owner.Hex(),
		"caller":    callerAddr.Hex(),
		"signature": hexutil.Encode(sig),
	}
}

func futureDeadline() int64 {
	return time.Now().Add(time.Hour).Unix()
}

func TestTransferRoute(t *testing.T) {
	t.Run("executes a valid permit", func(t *testing.T) {
		s := newTestServer(t)
		require.NoError(t, s.ledger.Mint(tokenAddr, s.owner, big.NewInt(1000)))

		w := s.do(t, http.MethodPost, "/v1/transfers", s.transferBody(t, 7, futureDeadline()))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "100", s.ledger.BalanceOf(tokenAddr, recipientAddr).String())
	})

	t.Run("replay returns 409 invalid_nonce", func(t *testing.T) {
		s := newTestServer(t)
		require.NoError(t, s.ledger.Mint(tokenAddr, s.owner, big.NewInt(1000)))
		body := s.transferBody(t, 7, futureDeadline())

		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/v1/transfers", body).Code)
		w := s.do(t, http.MethodPost, "/v1/transfers", body)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, permit.ErrCodeInvalidNonce, errorCode(t, w))
	})

	t.Run("tampered signature returns 401 invalid_signer", func(t *testing.T) {
		s := newTestServer(t)
		body := s.transferBody(t, 8, futureDeadline())
		sig, err := hexutil.Decode(body["signature"].(string))
		require.NoError(t, err)
		sig[10] ^= 0xff
		body["signature"] = hexutil.Encode(sig)

		w := s.do(t, http.MethodPost, "/v1/transfers", body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, permit.ErrCodeInvalidSigner, errorCode(t, w))
	})

	t.Run("expired permit returns 400 signature_expired", func(t *testing.T) {
		s := newTestServer(t)
		w := s.do(t, http.MethodPost, "/v1/transfers", s.transferBody(t, 9, 1))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, permit.ErrCodeSignatureExpired, errorCode(t, w))
	})

	t.Run("unfunded owner returns 402 insufficient_balance", func(t *testing.T) {
		s := newTestServer(t)
		w := s.do(t, http.MethodPost, "/v1/transfers", s.transferBody(t, 10, futureDeadline()))
		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		assert.Equal(t, permit.ErrCodeInsufficientBalance, errorCode(t, w))
	})

	t.Run("malformed addresses return 400 invalid_request", func(t *testing.T) {
		s := newTestServer(t)
		body := s.transferBody(t, 11, futureDeadline())
		body["owner"] = "not-an-address"

		w := s.do(t, http.MethodPost, "/v1/transfers", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_request", errorCode(t, w))
	})

	t.Run("missing fields return 400", func(t *testing.T) {
		s := newTestServer(t)
		w := s.do(t, http.MethodPost, "/v1/transfers", map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestBatchTransferRoute(t *testing.T) {
	t.Run("length mismatch returns 400 with the specific code", func(t *testing.T) {
		s := newTestServer(t)

		body := map[string]interface{}{
			"permit": map[string]interface{}{
				"tokens":        []string{tokenAddr.Hex(), recipientAddr.Hex()},
				"signedAmounts": []string{"100"},
				"spender":       callerAddr.Hex(),
				"nonce":         "1",
				"deadline":      fmt.Sprintf("%d", futureDeadline()),
			},
			"transfers": []map[string]string{
				{"requestedAmount": "1"},
				{"requestedAmount": "1"},
			},
			"owner":     s.owner.Hex(),
			"caller":    callerAddr.Hex(),
			"signature": "0x01",
		}

		w := s.do(t, http.MethodPost, "/v1/transfers/batch", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, permit.ErrCodeSignedDetailsLengthMismatch, errorCode(t, w))
	})

	t.Run("executes a signed batch", func(t *testing.T) {
		s := newTestServer(t)
		require.NoError(t, s.ledger.Mint(tokenAddr, s.owner, big.NewInt(1000)))

		deadline := futureDeadline()
		p := permit.PermitBatchTransferFrom{
			Tokens:        []common.Address{tokenAddr},
			SignedAmounts: []*big.Int{big.NewInt(100)},
			Spender:       callerAddr,
			Nonce:         big.NewInt(2),
			Deadline:      big.NewInt(deadline),
		}
		sig, err := s.signer.SignPermitBatchTransferFrom(p)
		require.NoError(t, err)

		body := map[string]interface{}{
			"permit": map[string]interface{}{
				"tokens":        []string{tokenAddr.Hex()},
				"signedAmounts": []string{"100"},
				"spender":       callerAddr.Hex(),
				"nonce":         "2",
				"deadline":      fmt.Sprintf("%d", deadline),
			},
			"transfers": []map[string]string{
				{"recipient": recipientAddr.Hex(), "requestedAmount": "60"},
			},
			"owner":     s.owner.Hex(),
			"caller":    callerAddr.Hex(),
			"signature": hexutil.Encode(sig),
		}

		w := s.do(t, http.MethodPost, "/v1/transfers/batch", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "60", s.ledger.BalanceOf(tokenAddr, recipientAddr).String())
	})
}

func TestNonceRoutes(t *testing.T) {
	t.Run("invalidate then query the bitmap word", func(t *testing.T) {
		s := newTestServer(t)

		w := s.do(t, http.MethodPost, "/v1/nonces/invalidate", map[string]string{
			"owner":     s.owner.Hex(),
			"wordIndex": "0",
			"mask":      "5",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = s.do(t, http.MethodGet, "/v1/nonces/"+s.owner.Hex()+"/0", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Bitmap    string `json:"bitmap"`
			WordIndex string `json:"wordIndex"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "5", body.Bitmap)
		assert.Equal(t, "0", body.WordIndex)
	})

	t.Run("bad word index returns 400", func(t *testing.T) {
		s := newTestServer(t)
		w := s.do(t, http.MethodGet, "/v1/nonces/"+s.owner.Hex()+"/not-a-number", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestFaucetRoutes(t *testing.T) {
	t.Run("mint then read the balance", func(t *testing.T) {
		s := newTestServer(t)

		w := s.do(t, http.MethodPost, "/v1/bank/mint", map[string]string{
			"token":   tokenAddr.Hex(),
			"account": s.owner.Hex(),
			"amount":  "250",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = s.do(t, http.MethodGet, "/v1/bank/balances/"+tokenAddr.Hex()+"/"+s.owner.Hex(), nil)
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Balance string `json:"balance"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "250", body.Balance)
	})
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
