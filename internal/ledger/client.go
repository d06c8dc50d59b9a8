package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// VerificationMethod is the Borsh enum variant selecting how a round's
// outcome gets verified.
type VerificationMethod uint8

const (
	VerifyPythPrice VerificationMethod = iota
	VerifyOnChainData
	VerifyExternalAPI
	VerifySwitchboardVRF
)

func ParseVerificationMethod(s string) (VerificationMethod, error) {
	switch s {
	case "pyth_price":
		return VerifyPythPrice, nil
	case "onchain_data":
		return VerifyOnChainData, nil
	case "external_api":
		return VerifyExternalAPI, nil
	case "switchboard_vrf":
		return VerifySwitchboardVRF, nil
	default:
		return 0, fmt.Errorf("unknown verification method: %q", s)
	}
}

type ClientOptions struct {
	RPC                 *RPCClient
	ProgramID           PublicKey
	PlatformWallet      PublicKey
	Signer              *Signer
	Commitment          string
	ConfirmTimeout      time.Duration
	ConfirmPollInterval time.Duration
	Logger              *zap.Logger
}

// Client is the typed instruction facade. Every method derives the
// touched program accounts, builds one signed transaction, submits it,
// and blocks until the node reports the configured commitment.
type Client struct {
	rpc            *RPCClient
	addrs          Addresses
	platformWallet PublicKey
	signer         *Signer
	commitment     string
	confirmTimeout time.Duration
	confirmPoll    time.Duration
	logger         *zap.Logger
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.RPC == nil {
		return nil, fmt.Errorf("ledger: rpc client is required")
	}
	if opts.Signer == nil {
		return nil, fmt.Errorf("ledger: signer is required")
	}
	if opts.ProgramID.IsZero() {
		return nil, fmt.Errorf("ledger: program id is required")
	}
	if opts.Commitment == "" {
		opts.Commitment = "confirmed"
	}
	if opts.ConfirmTimeout == 0 {
		opts.ConfirmTimeout = 60 * time.Second
	}
	if opts.ConfirmPollInterval == 0 {
		opts.ConfirmPollInterval = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		rpc:            opts.RPC,
		addrs:          Addresses{ProgramID: opts.ProgramID},
		platformWallet: opts.PlatformWallet,
		signer:         opts.Signer,
		commitment:     opts.Commitment,
		confirmTimeout: opts.ConfirmTimeout,
		confirmPoll:    opts.ConfirmPollInterval,
		logger:         opts.Logger,
	}, nil
}

func (c *Client) Authority() PublicKey {
	return c.signer.PublicKey()
}

func (c *Client) Addresses() Addresses {
	return c.addrs
}

func (c *Client) RPC() *RPCClient {
	return c.rpc
}

func (c *Client) CurrentSlot(ctx context.Context) (uint64, error) {
	return c.rpc.GetSlot(ctx, c.commitment)
}

type CreateRoundParams struct {
	RoundID      uint64
	StartTime    int64
	EndTime      int64
	NumOutcomes  uint8
	Question     string
	Verification VerificationMethod
	TargetValue  int64
	DataSource   PublicKey
	Oracle       PublicKey
}

func (c *Client) CreateRound(ctx context.Context, p CreateRoundParams) (string, error) {
	global, _, err := c.addrs.GlobalState()
	if err != nil {
		return "", err
	}
	round, _, err := c.addrs.Round(p.RoundID)
	if err != nil {
		return "", err
	}
	vault, _, err := c.addrs.Vault(p.RoundID)
	if err != nil {
		return "", err
	}

	var w BorshWriter
	disc := InstructionDiscriminator("create_round")
	w.Raw(disc[:])
	w.U64(p.RoundID)
	w.I64(p.StartTime)
	w.I64(p.EndTime)
	w.U8(p.NumOutcomes)
	if err := w.String(p.Question); err != nil {
		return "", err
	}
	w.U8(uint8(p.Verification))
	w.I64(p.TargetValue)
	w.PublicKey(p.DataSource)
	w.PublicKey(p.Oracle)

	return c.send(ctx, "create_round", Instruction{
		ProgramID: c.addrs.ProgramID,
		Accounts: []AccountMeta{
			{PubKey: global, IsWritable: true},
			{PubKey: round, IsWritable: true},
			{PubKey: vault, IsWritable: true},
			{PubKey: c.signer.PublicKey(), IsSigner: true, IsWritable: true},
			{PubKey: SystemProgramID},
		},
		Data: w.Bytes(),
	})
}

func (c *Client) PlacePrediction(ctx context.Context, roundID uint64, outcome uint8, amount uint64) (string, error) {
	global, _, err := c.addrs.GlobalState()
	if err != nil {
		return "", err
	}
	round, _, err := c.addrs.Round(roundID)
	if err != nil {
		return "", err
	}
	user := c.signer.PublicKey()
	prediction, _, err := c.addrs.Prediction(roundID, user)
	if err != nil {
		return "", err
	}
	userStats, _, err := c.addrs.UserStats(user)
	if err != nil {
		return "", err
	}
	vault, _, err := c.addrs.Vault(roundID)
	if err != nil {
		return "", err
	}

	var w BorshWriter
	disc := InstructionDiscriminator("place_prediction")
	w.Raw(disc[:])
	w.U64(roundID)
	w.U8(outcome)
	w.U64(amount)

	return c.send(ctx, "place_prediction", Instruction{
		ProgramID: c.addrs.ProgramID,
		Accounts: []AccountMeta{
			{PubKey: global},
			{PubKey: round, IsWritable: true},
			{PubKey: prediction, IsWritable: true},
			{PubKey: userStats, IsWritable: true},
			{PubKey: vault, IsWritable: true},
			{PubKey: user, IsSigner: true, IsWritable: true},
			{PubKey: SystemProgramID},
		},
		Data: w.Bytes(),
	})
}

func (c *Client) CloseBetting(ctx context.Context, roundID uint64) (string, error) {
	global, _, err := c.addrs.GlobalState()
	if err != nil {
		return "", err
	}
	round, _, err := c.addrs.Round(roundID)
	if err != nil {
		return "", err
	}

	var w BorshWriter
	disc := InstructionDiscriminator("close_betting")
	w.Raw(disc[:])
	w.U64(roundID)

	return c.send(ctx, "close_betting", Instruction{
		ProgramID: c.addrs.ProgramID,
		Accounts: []AccountMeta{
			{PubKey: global},
			{PubKey: round, IsWritable: true},
			{PubKey: c.signer.PublicKey(), IsSigner: true},
		},
		Data: w.Bytes(),
	})
}

// SettleRound submits the settlement with the winning pool amount summed
// off-chain from indexed predictions. The program recomputes fees and
// emits RoundSettled with the final numbers.
func (c *Client) SettleRound(ctx context.Context, roundID uint64, winningPool uint64) (string, error) {
	global, _, err := c.addrs.GlobalState()
	if err != nil {
		return "", err
	}
	round, _, err := c.addrs.Round(roundID)
	if err != nil {
		return "", err
	}
	vault, _, err := c.addrs.Vault(roundID)
	if err != nil {
		return "", err
	}

	var w BorshWriter
	disc := InstructionDiscriminator("settle_round")
	w.Raw(disc[:])
	w.U64(roundID)
	w.U64(winningPool)

	return c.send(ctx, "settle_round", Instruction{
		ProgramID: c.addrs.ProgramID,
		Accounts: []AccountMeta{
			{PubKey: global, IsWritable: true},
			{PubKey: round, IsWritable: true},
			{PubKey: vault, IsWritable: true},
			{PubKey: c.platformWallet, IsWritable: true},
			{PubKey: c.signer.PublicKey(), IsSigner: true, IsWritable: true},
			{PubKey: SystemProgramID},
		},
		Data: w.Bytes(),
	})
}

func (c *Client) ClaimWinnings(ctx context.Context, roundID uint64) (string, error) {
	user := c.signer.PublicKey()
	round, _, err := c.addrs.Round(roundID)
	if err != nil {
		return "", err
	}
	prediction, _, err := c.addrs.Prediction(roundID, user)
	if err != nil {
		return "", err
	}
	userStats, _, err := c.addrs.UserStats(user)
	if err != nil {
		return "", err
	}
	vault, _, err := c.addrs.Vault(roundID)
	if err != nil {
		return "", err
	}

	var w BorshWriter
	disc := InstructionDiscriminator("claim_winnings")
	w.Raw(disc[:])
	w.U64(roundID)

	return c.send(ctx, "claim_winnings", Instruction{
		ProgramID: c.addrs.ProgramID,
		Accounts: []AccountMeta{
			{PubKey: round, IsWritable: true},
			{PubKey: prediction, IsWritable: true},
			{PubKey: userStats, IsWritable: true},
			{PubKey: vault, IsWritable: true},
			{PubKey: user, IsSigner: true, IsWritable: true},
			{PubKey: SystemProgramID},
		},
		Data: w.Bytes(),
	})
}

func (c *Client) RefundPrediction(ctx context.Context, roundID uint64) (string, error) {
	user := c.signer.PublicKey()
	round, _, err := c.addrs.Round(roundID)
	if err != nil {
		return "", err
	}
	prediction, _, err := c.addrs.Prediction(roundID, user)
	if err != nil {
		return "", err
	}
	vault, _, err := c.addrs.Vault(roundID)
	if err != nil {
		return "", err
	}

	var w BorshWriter
	disc := InstructionDiscriminator("refund_prediction")
	w.Raw(disc[:])
	w.U64(roundID)

	return c.send(ctx, "refund_prediction", Instruction{
		ProgramID: c.addrs.ProgramID,
		Accounts: []AccountMeta{
			{PubKey: round, IsWritable: true},
			{PubKey: prediction, IsWritable: true},
			{PubKey: vault, IsWritable: true},
			{PubKey: user, IsSigner: true, IsWritable: true},
			{PubKey: SystemProgramID},
		},
		Data: w.Bytes(),
	})
}

func (c *Client) EmergencyCancel(ctx context.Context, roundID uint64, reason string) (string, error) {
	global, _, err := c.addrs.GlobalState()
	if err != nil {
		return "", err
	}
	round, _, err := c.addrs.Round(roundID)
	if err != nil {
		return "", err
	}

	var w BorshWriter
	disc := InstructionDiscriminator("emergency_cancel")
	w.Raw(disc[:])
	w.U64(roundID)
	if err := w.String(reason); err != nil {
		return "", err
	}

	return c.send(ctx, "emergency_cancel", Instruction{
		ProgramID: c.addrs.ProgramID,
		Accounts: []AccountMeta{
			{PubKey: global},
			{PubKey: round, IsWritable: true},
			{PubKey: c.signer.PublicKey(), IsSigner: true},
		},
		Data: w.Bytes(),
	})
}

func (c *Client) PauseProgram(ctx context.Context) (string, error) {
	return c.setPaused(ctx, "pause_program")
}

func (c *Client) UnpauseProgram(ctx context.Context) (string, error) {
	return c.setPaused(ctx, "unpause_program")
}

func (c *Client) setPaused(ctx context.Context, name string) (string, error) {
	global, _, err := c.addrs.GlobalState()
	if err != nil {
		return "", err
	}
	disc := InstructionDiscriminator(name)
	return c.send(ctx, name, Instruction{
		ProgramID: c.addrs.ProgramID,
		Accounts: []AccountMeta{
			{PubKey: global, IsWritable: true},
			{PubKey: c.signer.PublicKey(), IsSigner: true},
		},
		Data: disc[:],
	})
}

func (c *Client) send(ctx context.Context, name string, instr Instruction) (string, error) {
	blockhash, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return "", fmt.Errorf("%s: fetch blockhash: %w", name, err)
	}
	raw, err := BuildTransaction([]Instruction{instr}, blockhash, []*Signer{c.signer})
	if err != nil {
		return "", fmt.Errorf("%s: build transaction: %w", name, err)
	}
	signature, err := c.rpc.SendTransaction(ctx, base64.StdEncoding.EncodeToString(raw), c.commitment)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	c.logger.Debug("transaction submitted",
		zap.String("instruction", name),
		zap.String("signature", signature))
	if err := c.waitConfirmed(ctx, signature); err != nil {
		return signature, fmt.Errorf("%s: %w", name, err)
	}
	return signature, nil
}

func (c *Client) waitConfirmed(ctx context.Context, signature string) error {
	deadline, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	ticker := time.NewTicker(c.confirmPoll)
	defer ticker.Stop()
	for {
		statuses, err := c.rpc.GetSignatureStatuses(deadline, []string{signature})
		if err == nil && len(statuses) > 0 && statuses[0] != nil {
			st := statuses[0]
			if len(st.Err) > 0 && string(st.Err) != "null" {
				return fmt.Errorf("transaction %s failed: %s", signature, string(st.Err))
			}
			if st.ConfirmationStatus == "confirmed" || st.ConfirmationStatus == "finalized" {
				return nil
			}
		}
		select {
		case <-deadline.Done():
			return fmt.Errorf("confirm %s: %w", signature, deadline.Err())
		case <-ticker.C:
		}
	}
}
