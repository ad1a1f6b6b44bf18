package core

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	errorsmod "cosmossdk.io/errors"
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ClearingHouse/internal/errs"
	"ClearingHouse/internal/event"
	"ClearingHouse/internal/funding"
	"ClearingHouse/internal/ledger"
	"ClearingHouse/internal/observability"
	"ClearingHouse/internal/oracle"
	"ClearingHouse/internal/state"
)

// DefaultGlobalCheckInterval is how often, in commands, the zero-sum
// check over every account runs.
const DefaultGlobalCheckInterval = 1000

// DeterministicCore is the single-threaded command processor. Every
// command either commits completely or leaves no trace.
type DeterministicCore struct {
	sequence          int64 // next sequence to assign
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	fundingEngine     *funding.Engine
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator

	state     *state.State
	markets   *state.Markets
	positions *state.PositionManager
	oracles   map[uint16]oracle.Reading
	deposits  map[uuid.UUID]sdkmath.Int // net deposits, for the max deposit cap
	recordIDs [historyKinds]uint64      // last record id per history log

	globalCheckInterval int64
	readModel           atomic.Pointer[ReadModel]

	metrics *observability.Metrics
	logger  zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

const historyKinds = 6

// CoreOutput is everything a committed command produced.
type CoreOutput struct {
	Envelope  *event.EventEnvelope
	Batch     *ledger.Batch
	Records   []event.Record
	Positions []state.MarketPosition // positions the command touched, flat ones included
	// Markets the command touched, after the command.
	Markets     map[uint16]state.Market
	StateDigest []byte
}

// Config wires a DeterministicCore.
type Config struct {
	StartSequence       int64
	IdempotencyCapacity int
	GlobalCheckInterval int64
}

func NewDeterministicCore(
	cfg Config,
	st *state.State,
	markets *state.Markets,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*DeterministicCore, error) {
	if st == nil {
		return nil, fmt.Errorf("core: state is required")
	}
	if markets == nil {
		markets = state.NewMarkets()
	}
	if cfg.StartSequence <= 0 {
		cfg.StartSequence = 1
	}
	if cfg.IdempotencyCapacity <= 0 {
		cfg.IdempotencyCapacity = DefaultIdempotencyCapacity
	}
	if cfg.GlobalCheckInterval <= 0 {
		cfg.GlobalCheckInterval = DefaultGlobalCheckInterval
	}

	balanceTracker := ledger.NewBalanceTracker()
	idempotencyChecker, err := NewIdempotencyChecker(cfg.IdempotencyCapacity, dbChecker, metrics, logger)
	if err != nil {
		return nil, err
	}

	c := &DeterministicCore{
		sequence:            cfg.StartSequence,
		hasher:              NewStateHasher(),
		balanceTracker:      balanceTracker,
		journalGen:          ledger.NewJournalGenerator(balanceTracker),
		validator:           ledger.NewInvariantValidator(balanceTracker),
		fundingEngine:       funding.NewEngine(),
		idempotency:         idempotencyChecker,
		sequenceValidator:   NewSequenceValidator(metrics),
		state:               st.Clone(),
		markets:             markets,
		positions:           state.NewPositionManager(),
		oracles:             make(map[uint16]oracle.Reading),
		deposits:            make(map[uuid.UUID]sdkmath.Int),
		globalCheckInterval: cfg.GlobalCheckInterval,
		metrics:             metrics,
		logger:              logger,
		persistChan:         persistChan,
		projectionChan:      projectionChan,
	}
	c.publishReadModel()
	return c, nil
}

// ProcessEvent is the main processing pipeline. Duplicates return nil and
// change nothing; a rejected command returns its error and changes nothing.
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	_, err := c.process(evt, nil)
	return err
}

func (c *DeterministicCore) process(evt event.Event, replay *event.EventEnvelope) (*CoreOutput, error) {
	start := time.Now()
	commandType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	// Step 1: Idempotency check (two-tier). Replayed envelopes are already
	// in the event log, so the Postgres tier would flag every one of them.
	isDuplicate := false
	if replay == nil {
		isDuplicate = c.idempotency.IsDuplicate(commandType, idempotencyKey)
	} else if replay.Sequence != c.sequence {
		panic(fmt.Sprintf("FATAL: replay sequence mismatch: envelope %d, core %d", replay.Sequence, c.sequence))
	}

	// Step 2: Sequence validation
	partition := partitionOf(evt)
	sourceSequence := evt.SourceSequence()
	if err := c.sequenceValidator.ValidateSequence(partition, sourceSequence, isDuplicate); err != nil {
		c.recordRejection(commandType, "sequence")
		return nil, fmt.Errorf("sequence validation failed: %w", err)
	}
	if isDuplicate {
		c.recordRejection(commandType, "duplicate")
		return nil, nil
	}

	// Step 3: Dispatch against a staged copy of the state
	tx := c.begin(evt)
	if err := c.dispatch(tx, evt); err != nil {
		if replay != nil {
			panic(fmt.Sprintf("FATAL: replay of sequence %d rejected: %v", replay.Sequence, err))
		}
		c.recordRejection(commandType, errs.CategoryOf(err).String())
		return nil, fmt.Errorf("%s rejected: %w", commandType, err)
	}

	// Step 4: Validate batch balance
	if err := c.validator.ValidateBatchBalance(tx.batch); err != nil {
		panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
	}
	payload, err := event.Encode(evt)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	// Step 5: Commit
	if err := c.balanceTracker.ApplyBatch(tx.batch); err != nil {
		return nil, fmt.Errorf("apply batch failed: %w", err)
	}
	touched := tx.positions.Touched()
	touchedMarkets := tx.touchedMarkets()
	c.commit(tx)
	c.sequenceValidator.Advance(partition, sourceSequence)

	// Step 6: Post-checks
	if err := c.postCheckInvariants(tx.batch); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 7: Hash chain
	stateDigest := c.computeStateDigest(tx.batch, touched)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if replay != nil && replay.StateHash != stateHash {
		panic(fmt.Sprintf("FATAL: replay diverged at sequence %d: stored %x, computed %x",
			replay.Sequence, replay.StateHash, stateHash))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		MarketIndex:    evt.Market(),
		Timestamp:      time.Unix(tx.ts, 0).UTC(),
		SourceSequence: sourceSequence,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	output := &CoreOutput{
		Envelope:    envelope,
		Batch:       tx.batch,
		Records:     tx.records,
		Positions:   touched,
		Markets:     touchedMarkets,
		StateDigest: stateDigest,
	}
	c.sequence++
	c.publishReadModel()

	// Step 8: Emit outputs. Replayed envelopes are already persisted.
	if replay == nil {
		c.emit(output)
	}

	// Step 9: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(commandType, idempotencyKey)

	c.recordApplied(commandType, start, tx)
	return output, nil
}

// emit sends an output downstream. The persist channel blocks, so the core
// stalls rather than lose an event; projections are dropped when full and
// catch up from the event log.
func (c *DeterministicCore) emit(output *CoreOutput) {
	if c.persistChan != nil {
		select {
		case c.persistChan <- *output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- *output
		}
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- *output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}
}

// partitionOf determines the partition key for sequence validation
func partitionOf(evt event.Event) string {
	if idx := evt.Market(); idx != nil {
		return fmt.Sprintf("market:%d", *idx)
	}
	return "global"
}

// computeStateDigest serializes what the command could have changed: the
// markets table, the state singleton, touched positions and the balances
// of affected accounts.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, touched []state.MarketPosition) []byte {
	marketsBlob, err := c.markets.Encode()
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode markets: %v", err))
	}
	stateJSON, err := json.Marshal(c.state)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode state: %v", err))
	}

	affected := make(map[ledger.AccountKey]bool)
	for _, j := range batch.Journals {
		affected[j.DebitAccount] = true
		affected[j.CreditAccount] = true
	}
	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(marketsBlob)+len(stateJSON)+len(accounts)*64+len(touched)*96)
	digest = append(digest, marketsBlob...)
	digest = appendBytes(digest, stateJSON)

	for _, key := range accounts {
		digest = appendBytes(digest, []byte(key.AccountPath()))
		digest = appendBytes(digest, []byte(c.balanceTracker.GetBalance(key).String()))
	}
	for _, p := range touched {
		digest = append(digest, p.UserID[:]...)
		digest = binary.LittleEndian.AppendUint16(digest, p.MarketIndex)
		for _, v := range []sdkmath.Int{p.BaseAssetAmount, p.QuoteAssetAmount, p.LastCumulativeFundingRate, p.LastCumulativeRepegRebate} {
			digest = appendBytes(digest, []byte(v.String()))
		}
	}
	return digest
}

// appendBytes appends b with a 4-byte little-endian length prefix.
func appendBytes(buf, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// postCheckInvariants runs after a batch is applied. A failure means the
// handlers produced an impossible state and the process must stop.
func (c *DeterministicCore) postCheckInvariants(batch *ledger.Batch) error {
	for _, userID := range affectedUsers(batch) {
		if err := c.validator.ValidateUserCollateralNonNegative(userID); err != nil {
			return fmt.Errorf("post-check collateral: %w", err)
		}
	}
	if err := c.validator.ValidateInsuranceNonNegative(); err != nil {
		return fmt.Errorf("post-check insurance: %w", err)
	}
	if c.sequence > 0 && c.sequence%c.globalCheckInterval == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("post-check zero-sum at seq %d: %w", c.sequence, err)
		}
	}
	return nil
}

func affectedUsers(batch *ledger.Batch) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	out := make([]uuid.UUID, 0, 2)
	for _, j := range batch.Journals {
		for _, key := range []ledger.AccountKey{j.DebitAccount, j.CreditAccount} {
			if key.Scope != ledger.AccountScopeUser {
				continue
			}
			id := uuid.UUID(key.EntityID)
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

func (c *DeterministicCore) recordRejection(commandType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreCommandsRejected.WithLabelValues(commandType, reason).Inc()
	}
	c.logger.Debug().Str("command", commandType).Str("reason", reason).Msg("command rejected")
}

func (c *DeterministicCore) recordApplied(commandType string, start time.Time, tx *txn) {
	if c.metrics == nil {
		return
	}
	c.metrics.CoreCommandsApplied.WithLabelValues(commandType).Inc()
	c.metrics.CoreCommandDuration.WithLabelValues(commandType).Observe(time.Since(start).Seconds())
	c.metrics.CoreSequence.Set(float64(c.sequence))
	for _, j := range tx.batch.Journals {
		c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
	}
	for _, r := range tx.records {
		c.metrics.CoreRecords.WithLabelValues(r.HistoryKind().String()).Inc()
	}
	insurance := c.balanceTracker.GetBalance(ledger.InsuranceVault())
	if f, err := insurance.ToLegacyDec().Float64(); err == nil {
		c.metrics.InsuranceVaultBalance.Set(f)
	}
}

// dispatch routes a command to its handler.
func (c *DeterministicCore) dispatch(tx *txn, evt event.Event) error {
	switch e := evt.(type) {
	case *event.OracleUpdate:
		return c.handleOracleUpdate(tx, e)
	case *event.SettleFunding:
		return c.handleSettleFunding(tx, e)
	case *event.SettleFundingPayments:
		return c.handleSettleFundingPayments(tx, e)
	case *event.Trade:
		return c.handleTrade(tx, e)
	case *event.Liquidate:
		return c.handleLiquidate(tx, e)
	case *event.Deposit:
		return c.handleDeposit(tx, e)
	case *event.Withdraw:
		return c.handleWithdraw(tx, e)
	case *event.FundInsurance:
		return c.handleFundInsurance(tx, e)
	case *event.InitializeMarket:
		return c.handleInitializeMarket(tx, e)
	case *event.Repeg:
		return c.handleRepeg(tx, e)
	case *event.UpdateMarginRatios:
		return c.handleUpdateMarginRatios(tx, e)
	case *event.UpdateFeeStructure:
		return tx.state.SetFeeStructure(e.Signer, e.FeeStructure)
	case *event.UpdateOracleGuardRails:
		return tx.state.SetOracleGuardRails(e.Signer, e.OracleGuardRails)
	case *event.UpdateLiquidationParams:
		return tx.state.SetLiquidationParams(e.Signer, e.LiquidationParams)
	case *event.SetPaused:
		return c.handleSetPaused(tx, e)
	case *event.SetMaxDeposit:
		return tx.state.SetMaxDeposit(e.Signer, e.MaxDeposit)
	case *event.SetAdmin:
		return tx.state.SetAdmin(e.Signer, e.NewAdmin)
	case *event.UpdateMints:
		return c.handleUpdateMints(tx, e)
	case *event.InitializeHistory:
		return tx.state.InitializeHistory(e.Signer, e.History)
	case *event.InitializeOrderState:
		return tx.state.InitializeOrderState(e.Signer, e.OrderState)
	case *event.MoveAMMPrice:
		return c.handleMoveAMMPrice(tx, e)
	case *event.WithdrawFees:
		return c.handleWithdrawFees(tx, e)
	default:
		return errorsmod.Wrapf(errs.ErrUnknownCommand, "%T", evt)
	}
}

func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// WarmLRU loads idempotency keys from the event log on startup.
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.WarmFromKeys(keys)
}
