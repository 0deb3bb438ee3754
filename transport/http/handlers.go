package http

import (
	"errors"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/thomas-lamb-tech/permit"
	"github.com/thomas-lamb-tech/permit/bank"
)

// Handlers exposes the engine's entry points over HTTP. One route per entry
// point: single transfer, single with witness, batch, batch with witness,
// nonce invalidation, plus the read-only nonce word query.
//
// Callers are identified by the caller field of the request body; the
// deployment in front of this transport is responsible for authenticating
// it. For transfers that identity only matters as the zero-recipient
// substitute; the permit signature is the authorization. For nonce
// invalidation it selects whose bitmap is written, so that route must not be
// exposed without authentication.
type Handlers struct {
	engine *permit.SignatureTransfer
	ledger *bank.Ledger
	logger *zap.Logger
}

// NewHandlers creates HTTP handlers. ledger is optional; when present the
// dev faucet routes are registered.
func NewHandlers(engine *permit.SignatureTransfer, ledger *bank.Ledger, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		engine: engine,
		ledger: ledger,
		logger: logger,
	}
}

type permitBody struct {
	Token        string `json:"token" binding:"required"`
	Spender      string `json:"spender" binding:"required"`
	SignedAmount string `json:"signedAmount" binding:"required"`
	Nonce        string `json:"nonce" binding:"required"`
	Deadline     string `json:"deadline" binding:"required"`
}

type batchPermitBody struct {
	Tokens        []string `json:"tokens" binding:"required"`
	SignedAmounts []string `json:"signedAmounts" binding:"required"`
	Spender       string   `json:"spender" binding:"required"`
	Nonce         string   `json:"nonce" binding:"required"`
	Deadline      string   `json:"deadline" binding:"required"`
}

type transferDetailsBody struct {
	Recipient       string `json:"recipient"`
	RequestedAmount string `json:"requestedAmount" binding:"required"`
}

type witnessBody struct {
	Hash           string `json:"hash" binding:"required"`
	TypeName       string `json:"typeName" binding:"required"`
	TypeDefinition string `json:"typeDefinition" binding:"required"`
}

type transferRequest struct {
	Permit    permitBody          `json:"permit" binding:"required"`
	Transfer  transferDetailsBody `json:"transfer" binding:"required"`
	Owner     string              `json:"owner" binding:"required"`
	Caller    string              `json:"caller" binding:"required"`
	Signature string              `json:"signature" binding:"required"`
}

type witnessTransferRequest struct {
	Permit    permitBody          `json:"permit" binding:"required"`
	Transfer  transferDetailsBody `json:"transfer" binding:"required"`
	Owner     string              `json:"owner" binding:"required"`
	Caller    string              `json:"caller" binding:"required"`
	Witness   witnessBody         `json:"witness" binding:"required"`
	Signature string              `json:"signature" binding:"required"`
}

type batchTransferRequest struct {
	Permit    batchPermitBody       `json:"permit" binding:"required"`
	Transfers []transferDetailsBody `json:"transfers" binding:"required"`
	Owner     string                `json:"owner" binding:"required"`
	Caller    string                `json:"caller" binding:"required"`
	Signature string                `json:"signature" binding:"required"`
}

type witnessBatchTransferRequest struct {
	Permit    batchPermitBody       `json:"permit" binding:"required"`
	Transfers []transferDetailsBody `json:"transfers" binding:"required"`
	Owner     string                `json:"owner" binding:"required"`
	Caller    string                `json:"caller" binding:"required"`
	Witness   witnessBody           `json:"witness" binding:"required"`
	Signature string                `json:"signature" binding:"required"`
}

type invalidateRequest struct {
	Owner     string `json:"owner" binding:"required"`
	WordIndex string `json:"wordIndex" binding:"required"`
	Mask      string `json:"mask" binding:"required"`
}

// Transfer executes a single-token permit.
func (h *Handlers) Transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	p, details, owner, caller, sig, err := parseSingle(req.Permit, req.Transfer, req.Owner, req.Caller, req.Signature)
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	if err := h.engine.PermitTransferFrom(c.Request.Context(), p, details, owner, caller, sig); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "executed"})
}

// TransferWitness executes a single-token permit with a witness.
func (h *Handlers) TransferWitness(c *gin.Context) {
	var req witnessTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	p, details, owner, caller, sig, err := parseSingle(req.Permit, req.Transfer, req.Owner, req.Caller, req.Signature)
	if err != nil {
		respondBadRequest(c, err)
		return
	}
	witness, err := parseWitness(req.Witness)
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	if err := h.engine.PermitWitnessTransferFrom(c.Request.Context(), p, details, owner, caller, witness, sig); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "executed"})
}

// BatchTransfer executes a batch permit.
func (h *Handlers) BatchTransfer(c *gin.Context) {
	var req batchTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	p, details, owner, caller, sig, err := parseBatch(req.Permit, req.Transfers, req.Owner, req.Caller, req.Signature)
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	if err := h.engine.PermitBatchTransferFrom(c.Request.Context(), p, details, owner, caller, sig); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "executed"})
}

// BatchTransferWitness executes a batch permit with a witness.
func (h *Handlers) BatchTransferWitness(c *gin.Context) {
	var req witnessBatchTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	p, details, owner, caller, sig, err := parseBatch(req.Permit, req.Transfers, req.Owner, req.Caller, req.Signature)
	if err != nil {
		respondBadRequest(c, err)
		return
	}
	witness, err := parseWitness(req.Witness)
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	if err := h.engine.PermitBatchWitnessTransferFrom(c.Request.Context(), p, details, owner, caller, witness, sig); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "executed"})
}

// InvalidateNonces bulk-invalidates nonces in one bitmap word of the
// authenticated owner.
func (h *Handlers) InvalidateNonces(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	owner, err := parseAddress(req.Owner, "owner")
	if err != nil {
		respondBadRequest(c, err)
		return
	}
	wordIndex, err := parseUint256(req.WordIndex, "wordIndex")
	if err != nil {
		respondBadRequest(c, err)
		return
	}
	mask, err := parseUint256(req.Mask, "mask")
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	if err := h.engine.InvalidateUnorderedNonces(c.Request.Context(), owner, wordIndex, mask); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "invalidated"})
}

// NonceWord returns the owner's bitmap word as a decimal string.
func (h *Handlers) NonceWord(c *gin.Context) {
	owner, err := parseAddress(c.Param("owner"), "owner")
	if err != nil {
		respondBadRequest(c, err)
		return
	}
	wordIndex, err := parseUint256(c.Param("word"), "word")
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	word, err := h.engine.NonceBitmap(c.Request.Context(), owner, wordIndex)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"owner":     owner.Hex(),
		"wordIndex": wordIndex.String(),
		"bitmap":    word.String(),
	})
}

// Mint is the dev faucet: it credits ledger balances so permits can be
// exercised against the in-process bank.
func (h *Handlers) Mint(c *gin.Context) {
	var req struct {
		Token   string `json:"token" binding:"required"`
		Account string `json:"account" binding:"required"`
		Amount  string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	token, err := parseAddress(req.Token, "token")
	if err != nil {
		respondBadRequest(c, err)
		return
	}
	account, err := parseAddress(req.Account, "account")
	if err != nil {
		respondBadRequest(c, err)
		return
	}
	amount, err := parseUint256(req.Amount, "amount")
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	if err := h.ledger.Mint(token, account, amount); err != nil {
		respondBadRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "minted"})
}

// Balance returns a ledger balance.
func (h *Handlers) Balance(c *gin.Context) {
	token, err := parseAddress(c.Param("token"), "token")
	if err != nil {
		respondBadRequest(c, err)
		return
	}
	account, err := parseAddress(c.Param("account"), "account")
	if err != nil {
		respondBadRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":   token.Hex(),
		"account": account.Hex(),
		"balance": h.ledger.BalanceOf(token, account).String(),
	})
}

func parseSingle(
	pb permitBody,
	tb transferDetailsBody,
	ownerHex, callerHex, signatureHex string,
) (permit.PermitTransferFrom, permit.SignatureTransferDetails, common.Address, common.Address, []byte, error) {
	var (
		p       permit.PermitTransferFrom
		details permit.SignatureTransferDetails
	)

	token, err := parseAddress(pb.Token, "permit.token")
	if err != nil {
		return p, details, common.Address{}, common.Address{}, nil, err
	}
	spender, err := parseAddress(pb.Spender, "permit.spender")
	if err != nil {
		return p, details, common.Address{}, common.Address{}, nil, err
	}
	signedAmount, err := parseUint256(pb.SignedAmount, "permit.signedAmount")
	if err != nil {
		return p, details, common.Address{}, common.Address{}, nil, err
	}
	nonce, err := parseUint256(pb.Nonce, "permit.nonce")
	if err != nil {
		return p, details, common.Address{}, common.Address{}, nil, err
	}
	deadline, err := parseUint256(pb.Deadline, "permit.deadline")
	if err != nil {
		return p, details, common.Address{}, common.Address{}, nil, err
	}
	details, err = parseDetails(tb)
	if err != nil {
		return p, details, common.Address{}, common.Address{}, nil, err
	}
	owner, err := parseAddress(ownerHex, "owner")
	if err != nil {
		return p, details, common.Address{}, common.Address{}, nil, err
	}
	caller, err := parseAddress(callerHex, "caller")
	if err != nil {
		return p, details, common.Address{}, common.Address{}, nil, err
	}
	signature, err := parseHexBytes(signatureHex, "signature")
	if err != nil {
		return p, details, common.Address{}, common.Address{}, nil, err
	}

	p = permit.PermitTransferFrom{
		Permitted: permit.TokenPermissions{Token: token, Amount: signedAmount},
		Spender:   spender,
		Nonce:     nonce,
		Deadline:  deadline,
	}
	return p, details, owner, caller, signature, nil
}

func parseBatch(
	pb batchPermitBody,
	tbs []transferDetailsBody,
	ownerHex, callerHex, signatureHex string,
) (permit.PermitBatchTransferFrom, []permit.SignatureTransferDetails, common.Address, common.Address, []byte, error) {
	var p permit.PermitBatchTransferFrom

	tokens := make([]common.Address, len(pb.Tokens))
	for i, t := range pb.Tokens {
		token, err := parseAddress(t, "permit.tokens")
		if err != nil {
			return p, nil, common.Address{}, common.Address{}, nil, err
		}
		tokens[i] = token
	}
	signedAmounts := make([]*big.Int, len(pb.SignedAmounts))
	for i, a := range pb.SignedAmounts {
		amount, err := parseUint256(a, "permit.signedAmounts")
		if err != nil {
			return p, nil, common.Address{}, common.Address{}, nil, err
		}
		signedAmounts[i] = amount
	}
	spender, err := parseAddress(pb.Spender, "permit.spender")
	if err != nil {
		return p, nil, common.Address{}, common.Address{}, nil, err
	}
	nonce, err := parseUint256(pb.Nonce, "permit.nonce")
	if err != nil {
		return p, nil, common.Address{}, common.Address{}, nil, err
	}
	deadline, err := parseUint256(pb.Deadline, "permit.deadline")
	if err != nil {
		return p, nil, common.Address{}, common.Address{}, nil, err
	}

	details := make([]permit.SignatureTransferDetails, len(tbs))
	for i, tb := range tbs {
		d, err := parseDetails(tb)
		if err != nil {
			return p, nil, common.Address{}, common.Address{}, nil, err
		}
		details[i] = d
	}

	owner, err := parseAddress(ownerHex, "owner")
	if err != nil {
		return p, nil, common.Address{}, common.Address{}, nil, err
	}
	caller, err := parseAddress(callerHex, "caller")
	if err != nil {
		return p, nil, common.Address{}, common.Address{}, nil, err
	}
	signature, err := parseHexBytes(signatureHex, "signature")
	if err != nil {
		return p, nil, common.Address{}, common.Address{}, nil, err
	}

	p = permit.PermitBatchTransferFrom{
		Tokens:        tokens,
		SignedAmounts: signedAmounts,
		Spender:       spender,
		Nonce:         nonce,
		Deadline:      deadline,
	}
	return p, details, owner, caller, signature, nil
}

func parseDetails(tb transferDetailsBody) (permit.SignatureTransferDetails, error) {
	var details permit.SignatureTransferDetails

	// An absent recipient is the zero-address sentinel: funds go to the
	// executing caller.
	if tb.Recipient != "" {
		recipient, err := parseAddress(tb.Recipient, "transfer.recipient")
		if err != nil {
			return details, err
		}
		details.To = recipient
	}
	amount, err := parseUint256(tb.RequestedAmount, "transfer.requestedAmount")
	if err != nil {
		return details, err
	}
	details.RequestedAmount = amount
	return details, nil
}

func parseWitness(wb witnessBody) (permit.Witness, error) {
	hash, err := parseHexBytes(wb.Hash, "witness.hash")
	if err != nil {
		return permit.Witness{}, err
	}
	if len(hash) != common.HashLength {
		return permit.Witness{}, &fieldError{field: "witness.hash", reason: "must be 32 bytes"}
	}
	return permit.Witness{
		Hash:           common.BytesToHash(hash),
		TypeName:       wb.TypeName,
		TypeDefinition: wb.TypeDefinition,
	}, nil
}

type fieldError struct {
	field  string
	reason string
}

func (e *fieldError) Error() string {
	return e.field + ": " + e.reason
}

func parseAddress(s, field string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, &fieldError{field: field, reason: "not a hex address"}
	}
	return common.HexToAddress(s), nil
}

func parseUint256(s, field string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(s, 10)
	if !ok || value.Sign() < 0 || value.BitLen() > 256 {
		return nil, &fieldError{field: field, reason: "not a decimal uint256"}
	}
	return value, nil
}

func parseHexBytes(s, field string) ([]byte, error) {
	data, err := hexutil.Decode(s)
	if err != nil {
		return nil, &fieldError{field: field, reason: "not 0x-prefixed hex"}
	}
	return data, nil
}

func respondBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": gin.H{"code": "invalid_request", "message": err.Error()},
	})
}

func (h *Handlers) respondError(c *gin.Context, err error) {
	var pe *permit.Error
	if !errors.As(err, &pe) {
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"code": "internal_error", "message": "internal error"},
		})
		return
	}

	c.JSON(statusForCode(pe.Code), gin.H{
		"error": gin.H{"code": pe.Code, "message": pe.Message},
	})
}

func statusForCode(code string) int {
	switch code {
	case permit.ErrCodeInvalidSigner:
		return http.StatusUnauthorized
	case permit.ErrCodeInvalidNonce:
		return http.StatusConflict
	case permit.ErrCodeInsufficientBalance, permit.ErrCodeTransferFailed:
		return http.StatusPaymentRequired
	case permit.ErrCodeSignatureExpired,
		permit.ErrCodeInvalidAmount,
		permit.ErrCodeSignedDetailsLengthMismatch,
		permit.ErrCodeAmountsLengthMismatch,
		permit.ErrCodeRecipientLengthMismatch:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
