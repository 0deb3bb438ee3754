package permit

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// SignatureTransfer executes signature-authorized token transfers: it builds
// the permit digest, verifies the owner's signature, consumes the permit's
// unordered nonce, and invokes the external transfer primitive once per leg.
// Every entry point runs its checks in a fixed order and aborts on the first
// failure with no state written; the nonce bitmap is only touched after the
// signature is known valid, so an invalid signature never burns a nonce.
//
// The engine does not roll back transfer legs that already executed when a
// later leg fails; that guarantee belongs to the atomic execution context the
// transfer primitive lives in.
type SignatureTransfer struct {
	domain     Domain
	nonces     NonceStore
	transferor TokenTransferor
	validator  ContractSignatureValidator
	events     EventPublisher
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures optional engine collaborators.
type Option func(*SignatureTransfer)

// WithContractSignatureValidator installs the validator used for
// contract-account signatures. Without one, non-ECDSA signatures fail with
// ErrCodeInvalidSigner.
func WithContractSignatureValidator(v ContractSignatureValidator) Option {
	return func(s *SignatureTransfer) { s.validator = v }
}

// WithEventPublisher installs the sink for transfer and nonce-invalidation
// events.
func WithEventPublisher(p EventPublisher) Option {
	return func(s *SignatureTransfer) { s.events = p }
}

// WithLogger installs a structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *SignatureTransfer) { s.logger = l }
}

// WithClock overrides the deadline clock. For tests.
func WithClock(now func() time.Time) Option {
	return func(s *SignatureTransfer) { s.now = now }
}

// NewSignatureTransfer creates an engine over the given signing domain,
// nonce store, and transfer primitive.
func NewSignatureTransfer(domain Domain, nonces NonceStore, transferor TokenTransferor, opts ...Option) *SignatureTransfer {
	s := &SignatureTransfer{
		domain:     domain,
		nonces:     nonces,
		transferor: transferor,
		events:     NopPublisher{},
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DomainSeparator returns the engine's cached EIP-712 domain separator.
func (s *SignatureTransfer) DomainSeparator() common.Hash {
	return s.domain.Separator()
}

// PermitTransferFrom executes a single-token permit. caller is the
// authenticated identity submitting the call; it is substituted as recipient
// when details.To is the zero address, and is otherwise unchecked: the
// signature itself is the authorization, not the caller identity.
func (s *SignatureTransfer) PermitTransferFrom(
	ctx context.Context,
	permit PermitTransferFrom,
	details SignatureTransferDetails,
	owner common.Address,
	caller common.Address,
	signature []byte,
) error {
	return s.permitTransferFrom(ctx, permit, details, owner, caller, nil, signature)
}

// PermitWitnessTransferFrom executes a single-token permit whose signature
// additionally covers the caller-defined witness.
func (s *SignatureTransfer) PermitWitnessTransferFrom(
	ctx context.Context,
	permit PermitTransferFrom,
	details SignatureTransferDetails,
	owner common.Address,
	caller common.Address,
	witness Witness,
	signature []byte,
) error {
	return s.permitTransferFrom(ctx, permit, details, owner, caller, &witness, signature)
}

// PermitBatchTransferFrom executes a batch permit: one signature, one nonce,
// len(permit.Tokens) transfer legs.
func (s *SignatureTransfer) PermitBatchTransferFrom(
	ctx context.Context,
	permit PermitBatchTransferFrom,
	details []SignatureTransferDetails,
	owner common.Address,
	caller common.Address,
	signature []byte,
) error {
	return s.permitBatchTransferFrom(ctx, permit, details, owner, caller, nil, signature)
}

// PermitBatchWitnessTransferFrom executes a batch permit whose signature
// additionally covers the caller-defined witness.
func (s *SignatureTransfer) PermitBatchWitnessTransferFrom(
	ctx context.Context,
	permit PermitBatchTransferFrom,
	details []SignatureTransferDetails,
	owner common.Address,
	caller common.Address,
	witness Witness,
	signature []byte,
) error {
	return s.permitBatchTransferFrom(ctx, permit, details, owner, caller, &witness, signature)
}

func (s *SignatureTransfer) permitTransferFrom(
	ctx context.Context,
	permit PermitTransferFrom,
	details SignatureTransferDetails,
	owner common.Address,
	caller common.Address,
	witness *Witness,
	signature []byte,
) error {
	if err := s.checkDeadline(permit.Deadline); err != nil {
		return err
	}

	digest, err := s.domain.HashPermitTransferFrom(permit, witness)
	if err != nil {
		return fmt.Errorf("hash permit: %w", err)
	}
	if err := VerifySignature(ctx, digest, owner, signature, s.validator); err != nil {
		return err
	}
	if err := s.nonces.Consume(ctx, owner, permit.Nonce); err != nil {
		return err
	}

	return s.executeLeg(ctx, owner, caller, permit.Permitted, details)
}

func (s *SignatureTransfer) permitBatchTransferFrom(
	ctx context.Context,
	permit PermitBatchTransferFrom,
	details []SignatureTransferDetails,
	owner common.Address,
	caller common.Address,
	witness *Witness,
	signature []byte,
) error {
	if err := s.checkDeadline(permit.Deadline); err != nil {
		return err
	}
	if len(permit.SignedAmounts) != len(permit.Tokens) {
		return NewError(ErrCodeSignedDetailsLengthMismatch,
			fmt.Sprintf("%d signed amounts for %d tokens", len(permit.SignedAmounts), len(permit.Tokens)))
	}
	if len(details) != len(permit.Tokens) {
		return NewError(ErrCodeAmountsLengthMismatch,
			fmt.Sprintf("%d transfer instructions for %d tokens", len(details), len(permit.Tokens)))
	}

	digest, err := s.domain.HashPermitBatchTransferFrom(permit, witness)
	if err != nil {
		return fmt.Errorf("hash batch permit: %w", err)
	}
	if err := VerifySignature(ctx, digest, owner, signature, s.validator); err != nil {
		return err
	}
	if err := s.nonces.Consume(ctx, owner, permit.Nonce); err != nil {
		return err
	}

	for i, permitted := range permit.permissions() {
		if err := s.executeLeg(ctx, owner, caller, permitted, details[i]); err != nil {
			return fmt.Errorf("leg %d: %w", i, err)
		}
	}
	return nil
}

// executeLeg enforces the signed-amount ceiling, resolves the zero-address
// recipient sentinel to the caller, and invokes the transfer primitive.
func (s *SignatureTransfer) executeLeg(
	ctx context.Context,
	owner common.Address,
	caller common.Address,
	permitted TokenPermissions,
	details SignatureTransferDetails,
) error {
	if details.RequestedAmount == nil || details.RequestedAmount.Sign() < 0 {
		return NewError(ErrCodeInvalidAmount, "requested amount is not a uint256")
	}
	if permitted.Amount == nil || details.RequestedAmount.Cmp(permitted.Amount) > 0 {
		return NewError(ErrCodeInvalidAmount,
			fmt.Sprintf("requested amount %s exceeds signed amount %s", details.RequestedAmount, permitted.Amount))
	}

	to := details.To
	if to == (common.Address{}) {
		to = caller
	}

	if err := s.transferor.Transfer(ctx, permitted.Token, owner, to, details.RequestedAmount); err != nil {
		if ErrorCode(err) != "" {
			return err
		}
		return NewError(ErrCodeTransferFailed, err.Error())
	}

	event := TransferEvent{
		Owner:  owner,
		Token:  permitted.Token,
		To:     to,
		Amount: new(big.Int).Set(details.RequestedAmount),
	}
	if err := s.events.PublishTransfer(ctx, event); err != nil {
		s.logger.Warn("publish transfer event",
			zap.String("owner", owner.Hex()),
			zap.String("token", permitted.Token.Hex()),
			zap.Error(err))
	}
	s.logger.Debug("transfer executed",
		zap.String("owner", owner.Hex()),
		zap.String("token", permitted.Token.Hex()),
		zap.String("to", to.Hex()),
		zap.String("amount", details.RequestedAmount.String()))
	return nil
}

// InvalidateUnorderedNonces ORs mask into the owner's bitmap word, revoking
// every signature bound to the newly set nonces. owner must be the
// authenticated caller: the operation is keyed by it and only touches its
// own bitmap.
func (s *SignatureTransfer) InvalidateUnorderedNonces(
	ctx context.Context,
	owner common.Address,
	wordIndex *big.Int,
	mask *big.Int,
) error {
	if err := validateWordIndex(wordIndex); err != nil {
		return err
	}
	if err := validateMask(mask); err != nil {
		return err
	}

	if err := s.nonces.Invalidate(ctx, owner, wordIndex, mask); err != nil {
		return err
	}

	event := NonceInvalidationEvent{
		Owner:     owner,
		WordIndex: new(big.Int).Set(wordIndex),
		Mask:      new(big.Int).Set(mask),
	}
	if err := s.events.PublishNonceInvalidation(ctx, event); err != nil {
		s.logger.Warn("publish nonce invalidation event",
			zap.String("owner", owner.Hex()),
			zap.Error(err))
	}
	return nil
}

// NonceBitmap returns the owner's 256-bit bitmap word at wordIndex.
func (s *SignatureTransfer) NonceBitmap(ctx context.Context, owner common.Address, wordIndex *big.Int) (*big.Int, error) {
	if err := validateWordIndex(wordIndex); err != nil {
		return nil, err
	}
	return s.nonces.Word(ctx, owner, wordIndex)
}

// checkDeadline fails once the current time reaches the permit deadline.
// Plain comparison, no grace period.
func (s *SignatureTransfer) checkDeadline(deadline *big.Int) error {
	if deadline == nil || deadline.Sign() < 0 || deadline.BitLen() > 256 {
		return fmt.Errorf("permit deadline is not a uint256")
	}
	if big.NewInt(s.now().Unix()).Cmp(deadline) >= 0 {
		return NewError(ErrCodeSignatureExpired, "permit deadline has passed")
	}
	return nil
}
