// Package memory is an in-process implementation of every store the core
// uses. It backs the memory storage driver and the package tests, and it
// honours the same conditional-update contracts as the Postgres stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

type auctionRow struct {
	auction    domain.Auction
	leaseToken string
	leaseUntil time.Time
}

// Store holds all state behind one mutex. Per-auction mutexes serialise
// bid placement the way a row lock does.
type Store struct {
	mu       sync.Mutex
	listings map[string]domain.Listing
	auctions map[string]*auctionRow
	bids     map[string][]domain.Bid
	deposits map[string]domain.Deposit
	orders   map[string]domain.Order
	settings map[string]domain.SettingEntry
	audit    []domain.AuditEntry
	auditSeq int64
	receipts map[string]domain.SettlementReceipt

	lockMu       sync.Mutex
	auctionLocks map[string]*sync.Mutex
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		listings:     make(map[string]domain.Listing),
		auctions:     make(map[string]*auctionRow),
		bids:         make(map[string][]domain.Bid),
		deposits:     make(map[string]domain.Deposit),
		orders:       make(map[string]domain.Order),
		settings:     make(map[string]domain.SettingEntry),
		receipts:     make(map[string]domain.SettlementReceipt),
		auctionLocks: make(map[string]*sync.Mutex),
	}
}

// Stores returns every store view over s.
func (s *Store) Stores() domain.Stores {
	return domain.Stores{
		Listings: s.Listings(),
		Auctions: s.Auctions(),
		Bids:     s.Bids(),
		Ledger:   s.Ledger(),
		Deposits: s.Deposits(),
		Orders:   s.Orders(),
		Settings: s.Settings(),
		Audit:    s.Audit(),
	}
}

func (s *Store) Listings() domain.ListingStore  { return listingStore{s} }
func (s *Store) Auctions() domain.AuctionStore  { return auctionStore{s} }
func (s *Store) Bids() domain.BidStore          { return bidStore{s} }
func (s *Store) Ledger() domain.BidLedger       { return ledger{s} }
func (s *Store) Deposits() domain.DepositStore  { return depositStore{s} }
func (s *Store) Orders() domain.OrderStore      { return orderStore{s} }
func (s *Store) Settings() domain.SettingsStore { return settingsStore{s} }
func (s *Store) Audit() domain.AuditStore       { return auditStore{s} }
func (s *Store) Receipts() domain.ReceiptStore  { return receiptStore{s} }

func (s *Store) auctionLock(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	m, ok := s.auctionLocks[id]
	if !ok {
		m = &sync.Mutex{}
		s.auctionLocks[id] = m
	}
	return m
}

// --- listings ---

type listingStore struct{ s *Store }

func (ls listingStore) Upsert(_ context.Context, l domain.Listing) error {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()
	ls.s.listings[l.ID] = l
	return nil
}

func (ls listingStore) GetByID(_ context.Context, id string) (domain.Listing, error) {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()
	l, ok := ls.s.listings[id]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

// --- auctions ---

type auctionStore struct{ s *Store }

func (as auctionStore) Create(_ context.Context, a domain.Auction) error {
	if err := a.Validate(); err != nil {
		return err
	}
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	if _, ok := as.s.auctions[a.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if a.Status == "" {
		a.Status = domain.AuctionStatusActive
	}
	as.s.auctions[a.ID] = &auctionRow{auction: a}
	return nil
}

func (as auctionStore) GetByID(_ context.Context, id string) (domain.Auction, error) {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	row, ok := as.s.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return row.auction, nil
}

func settleable(a domain.Auction) bool {
	return a.ProcessedAt == nil &&
		(a.Status == domain.AuctionStatusActive || a.Status == domain.AuctionStatusEnded)
}

func (as auctionStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	var out []domain.Auction
	for _, row := range as.s.auctions {
		a := row.auction
		if settleable(a) && !a.EndAt.After(now) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndAt.Before(out[j].EndAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (as auctionStore) ClaimSettlement(_ context.Context, id, token string, now, leaseUntil time.Time) (domain.Auction, error) {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	row, ok := as.s.auctions[id]
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	a := row.auction
	switch {
	case !settleable(a):
		return domain.Auction{}, domain.ErrAlreadyProcessed
	case a.EndAt.After(now):
		return domain.Auction{}, domain.ErrAuctionNotEnded
	case row.leaseToken != "" && row.leaseUntil.After(now):
		return domain.Auction{}, domain.ErrSettlementInProgress
	}
	row.leaseToken = token
	row.leaseUntil = leaseUntil
	row.auction.Status = domain.AuctionStatusEnded
	row.auction.UpdatedAt = now
	return row.auction, nil
}

func (as auctionStore) ReleaseSettlement(_ context.Context, id, token string) error {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	row, ok := as.s.auctions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if row.leaseToken != token {
		return domain.ErrStaleState
	}
	row.leaseToken = ""
	row.leaseUntil = time.Time{}
	return nil
}

func (as auctionStore) MarkProcessed(_ context.Context, id, token string, at time.Time, status domain.AuctionStatus) error {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	row, ok := as.s.auctions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if row.auction.ProcessedAt != nil || row.leaseToken != token {
		return domain.ErrStaleState
	}
	row.auction.ProcessedAt = &at
	row.auction.Status = status
	row.auction.UpdatedAt = at
	row.leaseToken = ""
	row.leaseUntil = time.Time{}
	return nil
}

func (as auctionStore) ListArchivable(_ context.Context, before time.Time, limit int) ([]domain.Auction, error) {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	var out []domain.Auction
	for _, row := range as.s.auctions {
		a := row.auction
		if a.ProcessedAt != nil && a.ProcessedAt.Before(before) && a.ArchivedAt == nil {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessedAt.Before(*out[j].ProcessedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (as auctionStore) MarkArchived(_ context.Context, id string, at time.Time) error {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	row, ok := as.s.auctions[id]
	if !ok {
		return domain.ErrNotFound
	}
	row.auction.ArchivedAt = &at
	return nil
}

// --- bids ---

type bidStore struct{ s *Store }

func (bs bidStore) ListByAuction(_ context.Context, auctionID string) ([]domain.Bid, error) {
	bs.s.mu.Lock()
	defer bs.s.mu.Unlock()
	return append([]domain.Bid(nil), bs.s.bids[auctionID]...), nil
}

func highest(bids []domain.Bid) (domain.Bid, bool) {
	var best domain.Bid
	found := false
	for _, b := range bids {
		if !found || b.Amount.GreaterThan(best.Amount) {
			best, found = b, true
		}
	}
	return best, found
}

func (bs bidStore) HighestBid(_ context.Context, auctionID string) (domain.Bid, bool, error) {
	bs.s.mu.Lock()
	defer bs.s.mu.Unlock()
	b, ok := highest(bs.s.bids[auctionID])
	return b, ok, nil
}

func (bs bidStore) CountByAuction(_ context.Context, auctionID string) (int, error) {
	bs.s.mu.Lock()
	defer bs.s.mu.Unlock()
	return len(bs.s.bids[auctionID]), nil
}

// --- ledger ---

type ledger struct{ s *Store }

type bidTx struct {
	auction  domain.Auction
	existing []domain.Bid
	staged   []domain.Bid
	endAt    *time.Time
}

// WithAuctionLock runs fn with the auction locked. Bids and end-time
// changes are staged and only become visible when fn returns nil.
func (l ledger) WithAuctionLock(ctx context.Context, auctionID string, fn func(ctx context.Context, tx domain.BidTx) error) error {
	m := l.s.auctionLock(auctionID)
	m.Lock()
	defer m.Unlock()

	l.s.mu.Lock()
	row, ok := l.s.auctions[auctionID]
	if !ok {
		l.s.mu.Unlock()
		return domain.ErrNotFound
	}
	tx := &bidTx{
		auction:  row.auction,
		existing: append([]domain.Bid(nil), l.s.bids[auctionID]...),
	}
	l.s.mu.Unlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.bids[auctionID] = append(l.s.bids[auctionID], tx.staged...)
	if tx.endAt != nil {
		row.auction.EndAt = *tx.endAt
		row.auction.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (tx *bidTx) Auction() domain.Auction { return tx.auction }

func (tx *bidTx) HighestBid(context.Context) (domain.Bid, bool, error) {
	b, ok := highest(append(append([]domain.Bid(nil), tx.existing...), tx.staged...))
	return b, ok, nil
}

func (tx *bidTx) HasBidAt(_ context.Context, bidderID string, at time.Time) (bool, error) {
	for _, list := range [][]domain.Bid{tx.existing, tx.staged} {
		for _, b := range list {
			if b.BidderID == bidderID && b.CreatedAt.Equal(at) {
				return true, nil
			}
		}
	}
	return false, nil
}

// AppendBid stages b with the next per-auction sequence number.
func (tx *bidTx) AppendBid(_ context.Context, b domain.Bid) (domain.Bid, error) {
	b.Seq = int64(len(tx.existing) + len(tx.staged) + 1)
	tx.staged = append(tx.staged, b)
	return b, nil
}

func (tx *bidTx) UpdateEndAt(_ context.Context, endAt time.Time) error {
	if endAt.Before(tx.auction.EndAt) {
		return domain.ErrInvalidInput
	}
	tx.endAt = &endAt
	tx.auction.EndAt = endAt
	return nil
}

// --- deposits ---

type depositStore struct{ s *Store }

func isOpen(st domain.DepositStatus) bool {
	return st == domain.DepositStatusPending || st.IsActive()
}

func (ds depositStore) Create(_ context.Context, d domain.Deposit) error {
	ds.s.mu.Lock()
	defer ds.s.mu.Unlock()
	if _, ok := ds.s.deposits[d.ID]; ok {
		return domain.ErrAlreadyExists
	}
	for _, other := range ds.s.deposits {
		if other.AuctionID == d.AuctionID && other.BidderID == d.BidderID && isOpen(other.Status) {
			return domain.ErrAlreadyExists
		}
	}
	ds.s.deposits[d.ID] = d
	return nil
}

func (ds depositStore) GetByID(_ context.Context, id string) (domain.Deposit, error) {
	ds.s.mu.Lock()
	defer ds.s.mu.Unlock()
	d, ok := ds.s.deposits[id]
	if !ok {
		return domain.Deposit{}, domain.ErrNotFound
	}
	return d, nil
}

func (ds depositStore) GetByPaymentRef(_ context.Context, ref string) (domain.Deposit, error) {
	ds.s.mu.Lock()
	defer ds.s.mu.Unlock()
	for _, d := range ds.s.deposits {
		if ref != "" && d.PaymentRef == ref {
			return d, nil
		}
	}
	return domain.Deposit{}, domain.ErrNotFound
}

func (ds depositStore) FindOpen(_ context.Context, auctionID, bidderID string) (domain.Deposit, error) {
	ds.s.mu.Lock()
	defer ds.s.mu.Unlock()
	var found *domain.Deposit
	for _, d := range ds.s.deposits {
		if d.AuctionID != auctionID || d.BidderID != bidderID || !isOpen(d.Status) {
			continue
		}
		if found == nil || d.CreatedAt.After(found.CreatedAt) {
			d := d
			found = &d
		}
	}
	if found == nil {
		return domain.Deposit{}, domain.ErrNotFound
	}
	return *found, nil
}

func (ds depositStore) ListByAuction(_ context.Context, auctionID string, statuses ...domain.DepositStatus) ([]domain.Deposit, error) {
	ds.s.mu.Lock()
	defer ds.s.mu.Unlock()
	want := make(map[domain.DepositStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []domain.Deposit
	for _, d := range ds.s.deposits {
		if d.AuctionID == auctionID && (len(want) == 0 || want[d.Status]) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (ds depositStore) Transition(_ context.Context, id string, from, to domain.DepositStatus, ch domain.DepositChange) (domain.Deposit, error) {
	ds.s.mu.Lock()
	defer ds.s.mu.Unlock()
	d, ok := ds.s.deposits[id]
	if !ok {
		return domain.Deposit{}, domain.ErrNotFound
	}
	if d.Status != from {
		return domain.Deposit{}, domain.ErrStaleState
	}
	d = d.Apply(to, ch)
	ds.s.deposits[id] = d
	return d, nil
}

// --- orders ---

type orderStore struct{ s *Store }

func (st orderStore) CreateIfAbsent(_ context.Context, o domain.Order) (domain.Order, bool, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	if o.Type == domain.OrderTypeAuction {
		for _, existing := range st.s.orders {
			if existing.Type == domain.OrderTypeAuction && existing.ListingID == o.ListingID && existing.BuyerID == o.BuyerID {
				return existing, false, nil
			}
		}
	}
	if _, ok := st.s.orders[o.ID]; ok {
		return domain.Order{}, false, domain.ErrAlreadyExists
	}
	st.s.orders[o.ID] = o
	return o, true, nil
}

func (st orderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	o, ok := st.s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (st orderStore) GetByAuction(_ context.Context, auctionID string) (domain.Order, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, o := range st.s.orders {
		if o.AuctionID == auctionID {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

// --- settings ---

type settingsStore struct{ s *Store }

func (ss settingsStore) List(context.Context) ([]domain.SettingEntry, error) {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	out := make([]domain.SettingEntry, 0, len(ss.s.settings))
	for _, e := range ss.s.settings {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (ss settingsStore) Upsert(_ context.Context, e domain.SettingEntry) error {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()
	ss.s.settings[e.Key] = e
	return nil
}

// --- audit ---

type auditStore struct{ s *Store }

func (as auditStore) Log(_ context.Context, event string, detail map[string]any) error {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	as.s.auditSeq++
	as.s.audit = append(as.s.audit, domain.AuditEntry{
		ID:        as.s.auditSeq,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (as auditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(as.s.audit) - 1; i >= 0; i-- {
		e := as.s.audit[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !e.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (as auditStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	kept := as.s.audit[:0]
	var n int64
	for _, e := range as.s.audit {
		if e.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	as.s.audit = kept
	return n, nil
}

// --- receipts ---

type receiptStore struct{ s *Store }

func (rs receiptStore) PutReceipt(_ context.Context, r domain.SettlementReceipt) error {
	rs.s.mu.Lock()
	defer rs.s.mu.Unlock()
	rs.s.receipts[r.AuctionID] = r
	return nil
}

func (rs receiptStore) GetReceipt(_ context.Context, auctionID string) (domain.SettlementReceipt, error) {
	rs.s.mu.Lock()
	defer rs.s.mu.Unlock()
	r, ok := rs.s.receipts[auctionID]
	if !ok {
		return domain.SettlementReceipt{}, domain.ErrNotFound
	}
	return r, nil
}
