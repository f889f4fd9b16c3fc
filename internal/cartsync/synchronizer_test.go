package cartsync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vladislavdragonenkov/cartsync/internal/cart"
	"github.com/vladislavdragonenkov/cartsync/internal/domain"
	"github.com/vladislavdragonenkov/cartsync/internal/messaging/local"
	"github.com/vladislavdragonenkov/cartsync/internal/persistence"
	"github.com/vladislavdragonenkov/cartsync/internal/storage/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeChannel struct {
	mu        sync.Mutex
	in        chan []byte
	published [][]byte
	closeOnce sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{in: make(chan []byte, 16)}
}

func (c *fakeChannel) Publish(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, payload)
	return nil
}

func (c *fakeChannel) Messages() <-chan []byte { return c.in }

func (c *fakeChannel) Close() error {
	c.closeOnce.Do(func() { close(c.in) })
	return nil
}

func (c *fakeChannel) sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.published...)
}

type fakeOpener struct {
	channel domain.BroadcastChannel
	err     error
}

func (o *fakeOpener) Open(context.Context, string) (domain.BroadcastChannel, error) {
	return o.channel, o.err
}

type recordingApplier struct {
	mu      sync.Mutex
	applied []domain.Cart
}

func (a *recordingApplier) ApplyRemote(_ context.Context, c domain.Cart, accept func() bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !accept() {
		return false
	}
	a.applied = append(a.applied, c)
	return true
}

func (a *recordingApplier) snapshot() []domain.Cart {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Cart(nil), a.applied...)
}

func message(t *testing.T, ts int64, qty int) []byte {
	t.Helper()
	c := domain.NewCart([]domain.CartLine{
		domain.NewLine(domain.Product{ID: "1", Price: decimal.RequireFromString("79.99")}, qty),
	})
	payload, err := json.Marshal(domain.BroadcastMessage{Type: domain.MessageTypeCartUpdated, Cart: &c, Timestamp: ts})
	require.NoError(t, err)
	return payload
}

// drain закрывает канал и ждёт, пока receive обработает всё, что уже в буфере.
func drain(t *testing.T, s *Synchronizer) {
	t.Helper()
	require.NoError(t, s.Close())
}

func TestSynchronizer_LastWriterWinsInEitherOrder(t *testing.T) {
	orders := map[string][]int64{
		"older first": {100, 200},
		"newer first": {200, 100},
	}

	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			channel := newFakeChannel()
			applier := &recordingApplier{}
			s := New(applier, &fakeOpener{channel: channel})
			require.NoError(t, s.Start(context.Background()))

			for _, ts := range order {
				channel.in <- message(t, ts, int(ts/100))
			}
			drain(t, s)

			applied := applier.snapshot()
			require.NotEmpty(t, applied)
			last := applied[len(applied)-1]
			assert.Equal(t, 2, last.Items[0].Quantity, "state from timestamp 200 must win")
		})
	}
}

func TestSynchronizer_DropsMalformedMessages(t *testing.T) {
	channel := newFakeChannel()
	applier := &recordingApplier{}
	s := New(applier, &fakeOpener{channel: channel})
	require.NoError(t, s.Start(context.Background()))

	channel.in <- []byte(`not json`)
	channel.in <- []byte(`{"type":"CART_CLEARED","cart":{"items":[]},"timestamp":5}`)
	channel.in <- []byte(`{"type":"CART_UPDATED","timestamp":5}`)
	channel.in <- []byte(`{"type":"CART_UPDATED","cart":{"items":[]},"timestamp":0}`)
	channel.in <- []byte(`{"type":"CART_UPDATED","cart":{"items":[]},"timestamp":-3}`)
	drain(t, s)

	assert.Empty(t, applier.snapshot())
}

func TestSynchronizer_NotifyPublishesCartUpdate(t *testing.T) {
	channel := newFakeChannel()
	now := time.UnixMilli(1_000)
	s := New(&recordingApplier{}, &fakeOpener{channel: channel}, WithClock(func() time.Time { return now }))
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	c := domain.NewCart([]domain.CartLine{domain.PlaceholderLine("9", 1)})
	s.Notify(c)
	s.Notify(c)

	sent := channel.sent()
	require.Len(t, sent, 2)

	var first, second domain.BroadcastMessage
	require.NoError(t, json.Unmarshal(sent[0], &first))
	require.NoError(t, json.Unmarshal(sent[1], &second))
	assert.Equal(t, domain.MessageTypeCartUpdated, first.Type)
	assert.Equal(t, int64(1_000), first.Timestamp)
	assert.Equal(t, int64(1_001), second.Timestamp, "timestamps must stay strictly increasing")
	require.NotNil(t, first.Cart)
	assert.True(t, first.Cart.Items[0].Unavailable)
}

func TestSynchronizer_IgnoresOwnEcho(t *testing.T) {
	channel := newFakeChannel()
	applier := &recordingApplier{}
	s := New(applier, &fakeOpener{channel: channel})
	require.NoError(t, s.Start(context.Background()))

	s.Notify(domain.EmptyCart())
	sent := channel.sent()
	require.Len(t, sent, 1)

	channel.in <- sent[0]
	drain(t, s)

	assert.Empty(t, applier.snapshot())
}

func TestSynchronizer_DisabledWhenChannelCannotOpen(t *testing.T) {
	s := New(&recordingApplier{}, &fakeOpener{err: errors.New("no transport")})

	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.Enabled())

	s.Notify(domain.EmptyCart())
	require.NoError(t, s.Close())
}

func TestSynchronizer_StartTwice(t *testing.T) {
	s := New(&recordingApplier{}, &fakeOpener{channel: newFakeChannel()})
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	assert.True(t, s.Enabled())
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestSynchronizer_CloseIsIdempotent(t *testing.T) {
	channel := newFakeChannel()
	s := New(&recordingApplier{}, &fakeOpener{channel: channel})
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.False(t, s.Enabled())

	s.Notify(domain.EmptyCart())
	assert.Empty(t, channel.sent())
}

type browsingContext struct {
	store *cart.Store
	sync  *Synchronizer
}

func openContext(t *testing.T, hub *local.Hub, kv domain.KVStore, catalog domain.CatalogLookup) *browsingContext {
	t.Helper()

	store := cart.NewStore(persistence.NewAdapter(kv, catalog))
	require.NoError(t, store.Load(context.Background()))
	return bindContext(t, hub, store, store)
}

// bindContext подключает store к hub так же, как это делает app.CartContext.
func bindContext(t *testing.T, hub *local.Hub, store *cart.Store, applier Applier) *browsingContext {
	t.Helper()

	s := New(applier, hub)
	s.Bind(store)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	return &browsingContext{store: store, sync: s}
}

func lookup(t *testing.T, catalog domain.CatalogLookup, id string) domain.Product {
	t.Helper()
	found, err := catalog.BatchLookup(context.Background(), []string{id})
	require.NoError(t, err)
	require.Len(t, found, 1)
	return found[0]
}

func lineIDs(c domain.Cart) []string {
	ids := make([]string, 0, len(c.Items))
	for _, line := range c.Items {
		ids = append(ids, line.ID)
	}
	return ids
}

func requireConverged(t *testing.T, want []string, contexts ...*browsingContext) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, c := range contexts {
			if !assert.ObjectsAreEqual(want, lineIDs(c.store.Cart())) {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	// Состояние не должно разойтись после того, как всё доставлено.
	time.Sleep(50 * time.Millisecond)
	for i, c := range contexts {
		assert.Equal(t, want, lineIDs(c.store.Cart()), "context %d", i)
	}
}

func TestSynchronizer_TwoContextsConverge(t *testing.T) {
	hub := local.NewHub(0)
	kv := memory.NewKVStore(0)
	catalog := memory.NewCatalog(memory.SampleProducts())

	a := openContext(t, hub, kv, catalog)
	b := openContext(t, hub, kv, catalog)

	products, err := catalog.BatchLookup(context.Background(), []string{"2"})
	require.NoError(t, err)
	a.store.AddItem(context.Background(), products[0])

	require.Eventually(t, func() bool {
		return b.store.ItemCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	got := b.store.Cart()
	assert.Equal(t, "Smart Watch", got.Items[0].Name)
	assert.True(t, got.Total.Equal(decimal.RequireFromString("299.99")))

	// B применил удалённое состояние и не разослал его обратно.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, a.store.ItemCount())

	b.store.RemoveItem(context.Background(), "2")
	require.Eventually(t, func() bool {
		return a.store.ItemCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSynchronizer_SyncedStateIsNotRebroadcast(t *testing.T) {
	channel := newFakeChannel()
	store := cart.NewStore(persistence.NewAdapter(memory.NewKVStore(0), memory.NewCatalog(nil)))
	require.NoError(t, store.Load(context.Background()))

	s := New(store, &fakeOpener{channel: channel})
	s.Bind(store)
	require.NoError(t, s.Start(context.Background()))

	channel.in <- message(t, time.Now().Add(time.Hour).UnixMilli(), 3)
	drain(t, s)

	assert.Equal(t, 3, store.ItemCount())
	assert.Empty(t, channel.sent(), "applying a remote state must not publish")
}

// gatedPersister задерживает Load до закрытия gate.
type gatedPersister struct {
	cart.Persister
	gate chan struct{}
}

func (p *gatedPersister) Load(ctx context.Context) (domain.Cart, error) {
	<-p.gate
	return p.Persister.Load(ctx)
}

func TestSynchronizer_EditDuringLoadConvergesOnLoadedCart(t *testing.T) {
	ctx := context.Background()
	hub := local.NewHub(0)
	kv := memory.NewKVStore(0)
	catalog := memory.NewCatalog(memory.SampleProducts())

	// В хранилище контекста A уже лежит корзина с товаром "4".
	storedA := memory.NewKVStore(0)
	seed := cart.NewStore(persistence.NewAdapter(storedA, catalog))
	require.NoError(t, seed.Load(ctx))
	seed.AddItem(ctx, lookup(t, catalog, "4"))

	gated := &gatedPersister{Persister: persistence.NewAdapter(storedA, catalog), gate: make(chan struct{})}
	aStore := cart.NewStore(gated)
	a := bindContext(t, hub, aStore, aStore)
	b := openContext(t, hub, kv, catalog)

	loaded := make(chan error, 1)
	go func() { loaded <- aStore.Load(ctx) }()

	aStore.AddItem(ctx, lookup(t, catalog, "1"))
	requireConverged(t, []string{"1"}, b)

	close(gated.gate)
	require.NoError(t, <-loaded)

	requireConverged(t, []string{"4"}, a, b)
}

// interleavingApplier запускает локальное изменение в момент, когда удалённое
// состояние уже принято, но ещё не применено.
type interleavingApplier struct {
	*cart.Store
	once sync.Once
	edit func()
	done chan struct{}
}

func (a *interleavingApplier) ApplyRemote(ctx context.Context, c domain.Cart, accept func() bool) bool {
	return a.Store.ApplyRemote(ctx, c, func() bool {
		ok := accept()
		a.once.Do(func() {
			started := make(chan struct{})
			go func() {
				defer close(a.done)
				close(started)
				a.edit()
			}()
			<-started
		})
		return ok
	})
}

func TestSynchronizer_LocalEditRacingRemoteApplyConverges(t *testing.T) {
	ctx := context.Background()
	hub := local.NewHub(0)
	kv := memory.NewKVStore(0)
	catalog := memory.NewCatalog(memory.SampleProducts())

	aStore := cart.NewStore(persistence.NewAdapter(kv, catalog))
	require.NoError(t, aStore.Load(ctx))
	applier := &interleavingApplier{Store: aStore, done: make(chan struct{})}
	extra := lookup(t, catalog, "5")
	applier.edit = func() { aStore.AddItem(ctx, extra) }

	a := bindContext(t, hub, aStore, applier)
	b := openContext(t, hub, kv, catalog)

	b.store.AddItem(ctx, lookup(t, catalog, "2"))

	select {
	case <-applier.done:
	case <-time.After(2 * time.Second):
		t.Fatal("local edit did not run")
	}

	requireConverged(t, []string{"2", "5"}, a, b)
}
