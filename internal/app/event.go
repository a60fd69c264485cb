package service

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/google/uuid"

	"github.com/okian/runac/internal/domain/event"
	"github.com/okian/runac/internal/domain/market"
	"github.com/okian/runac/internal/domain/model"
	"github.com/okian/runac/internal/domain/wager"
	"github.com/okian/runac/pkg/logger"
	"github.com/okian/runac/pkg/metrics"
)

// EventStatus is the calendar state plus the viewer's wallet.
type EventStatus struct {
	event.Status
	Points    float64  `json:"points"`
	Purchases []string `json:"purchases"`
}

// EventStatus reports the calendar and the viewer's points and purchases.
func (s *Service) EventStatus(ctx context.Context, viewer int64) (EventStatus, error) {
	u, err := s.store.GetUser(ctx, viewer)
	if err != nil {
		return EventStatus{}, err
	}
	purchases := u.Purchases
	if purchases == nil {
		purchases = []string{}
	}
	return EventStatus{Status: s.calendar.Status(), Points: u.Points, Purchases: purchases}, nil
}

// PlaceBet settles a stake immediately against the viewer's points.
func (s *Service) PlaceBet(ctx context.Context, seq int64, stake float64) (model.WagerOutcome, error) {
	if err := s.calendar.CheckBet(); err != nil {
		metrics.RecordWagerRejected("closed")
		return model.WagerOutcome{}, err
	}
	if _, err := wager.ValidateStake(stake); err != nil {
		metrics.RecordWagerRejected("invalid_stake")
		return model.WagerOutcome{}, err
	}
	if _, err := s.store.GetUser(ctx, seq); err != nil {
		return model.WagerOutcome{}, err
	}
	return s.engine.Settle(ctx, seq, stake)
}

// SlotLog is every wager settled in one 10-minute slot.
type SlotLog struct {
	SlotID       string        `json:"slot_id"`
	Participants []Participant `json:"participants"`
}

// Participant is one wager inside a slot log.
type Participant struct {
	UserSeq    int64   `json:"user_seq"`
	Stake      int64   `json:"stake"`
	Multiplier float64 `json:"multiplier"`
	Payout     int64   `json:"payout"`
}

// Logs groups every settled wager by slot, newest slot first.
func (s *Service) Logs(ctx context.Context) ([]SlotLog, error) {
	wagers, err := s.store.ListAllWagers(ctx)
	if err != nil {
		return nil, err
	}
	return groupBySlot(wagers, ""), nil
}

// SlotLogs returns the wagers of one slot. An unknown slot has no participants.
func (s *Service) SlotLogs(ctx context.Context, slotID string) (SlotLog, error) {
	wagers, err := s.store.ListAllWagers(ctx)
	if err != nil {
		return SlotLog{}, err
	}
	if logs := groupBySlot(wagers, slotID); len(logs) == 1 {
		return logs[0], nil
	}
	return SlotLog{SlotID: slotID, Participants: []Participant{}}, nil
}

// MyWagers lists the viewer's own wagers, newest first.
func (s *Service) MyWagers(ctx context.Context, seq int64) ([]model.WagerOutcome, error) {
	return s.store.ListWagers(ctx, seq)
}

// groupBySlot keeps the store's newest-first order inside each slot. An empty
// filter matches every slot.
func groupBySlot(wagers []model.WagerOutcome, only string) []SlotLog {
	idx := make(map[string]int)
	var out []SlotLog
	for _, w := range wagers {
		if only != "" && w.SlotID != only {
			continue
		}
		i, ok := idx[w.SlotID]
		if !ok {
			i = len(out)
			idx[w.SlotID] = i
			out = append(out, SlotLog{SlotID: w.SlotID})
		}
		out[i].Participants = append(out[i].Participants, Participant{
			UserSeq:    w.UserSeq,
			Stake:      w.Stake,
			Multiplier: w.Multiplier,
			Payout:     w.Payout,
		})
	}
	slices.SortStableFunc(out, func(a, b SlotLog) int { return cmp.Compare(b.SlotID, a.SlotID) })
	if out == nil {
		out = []SlotLog{}
	}
	return out
}

// MarketListings returns the catalog marked with what the viewer owns. A
// viewer of 0 is anonymous and owns nothing.
func (s *Service) MarketListings(ctx context.Context, viewer int64) ([]market.Listing, error) {
	if viewer == 0 {
		return s.catalog.Listings(nil), nil
	}
	u, err := s.store.GetUser(ctx, viewer)
	if err != nil {
		return nil, err
	}
	return s.catalog.Listings(u.Purchases), nil
}

// Buy redeems points for an item. Each item can be bought once per user.
func (s *Service) Buy(ctx context.Context, seq int64, itemID string) (model.Purchase, float64, error) {
	if err := s.calendar.CheckPurchase(); err != nil {
		metrics.RecordPurchaseRejected("closed")
		return model.Purchase{}, 0, err
	}
	item, err := s.catalog.Get(itemID)
	if err != nil {
		metrics.RecordPurchaseRejected("unknown_item")
		return model.Purchase{}, 0, err
	}

	p := model.Purchase{ID: uuid.NewString(), UserSeq: seq, ItemID: item.ID, Price: item.Price, CreatedAt: s.now().UTC()}
	balance, err := s.store.Purchase(ctx, p)
	if err != nil {
		switch {
		case errors.Is(err, market.ErrAlreadyPurchased):
			metrics.RecordPurchaseRejected("already_purchased")
		case errors.Is(err, model.ErrInsufficientBalance):
			metrics.RecordPurchaseRejected("insufficient_balance")
		default:
			metrics.RecordErrorByComponent("market", "persistence")
		}
		return model.Purchase{}, 0, err
	}

	metrics.RecordPurchase(item.ID)
	s.logger.Info(ctx, "item purchased",
		logger.Int64("userSeq", seq),
		logger.String("itemID", item.ID),
		logger.Int64("price", item.Price),
		logger.Float64("balance", balance),
	)
	return p, balance, nil
}

// Purchases lists every purchase, newest first.
func (s *Service) Purchases(ctx context.Context, actor int64) ([]model.Purchase, error) {
	if err := s.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	return s.store.ListPurchases(ctx)
}
