package optimistic_test

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svcdesk/internal/optimistic"
)

type itemInput struct {
	Name string
}

// fakeRemote is an in-memory authority. When gated, every Create reports on
// started and then blocks until one value is received from release.
type fakeRemote struct {
	mu      sync.Mutex
	items   []item
	nextID  int64
	lists   int
	filters []url.Values

	gated   bool
	started chan string
	release chan struct{}

	failCreate map[string]error
	failList   error
}

func newFakeRemote(items ...item) *fakeRemote {
	f := &fakeRemote{
		started:    make(chan string, 16),
		release:    make(chan struct{}),
		failCreate: map[string]error{},
	}
	for _, it := range items {
		f.items = append(f.items, it)
		if it.ID > f.nextID {
			f.nextID = it.ID
		}
	}
	return f
}

func (f *fakeRemote) gate() { f.gated = true }

func (f *fakeRemote) List(_ context.Context, filter url.Values) ([]item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	f.filters = append(f.filters, filter)
	if f.failList != nil {
		return nil, f.failList
	}
	return append([]item(nil), f.items...), nil
}

func (f *fakeRemote) Create(_ context.Context, in itemInput) (item, error) {
	if f.gated {
		f.started <- in.Name
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failCreate[in.Name]; err != nil {
		return item{}, err
	}
	f.nextID++
	it := item{ID: f.nextID, Name: in.Name}
	f.items = append(f.items, it)
	return it, nil
}

func (f *fakeRemote) Update(_ context.Context, id int64, in itemInput) (item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].Name = in.Name
			return f.items[i], nil
		}
	}
	return item{}, fmt.Errorf("item %d not found", id)
}

func (f *fakeRemote) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("item %d not found", id)
}

func (f *fakeRemote) snapshot() []item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]item(nil), f.items...)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func awaitStarted(t *testing.T, f *fakeRemote, name string) {
	t.Helper()
	select {
	case got := <-f.started:
		require.Equal(t, name, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("create %q never reached the remote", name)
	}
}

func names(items []item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

func TestCoordinatorConvergesToRemote(t *testing.T) {
	ctx := waitCtx(t)
	remote := newFakeRemote(item{ID: 1, Name: "laptop"}, item{ID: 2, Name: "vpn"})
	c := optimistic.New[item, itemInput](remote)
	defer c.Close()

	_, err := c.Refresh(ctx).Wait(ctx)
	require.NoError(t, err)

	tasks := []interface{ Wait(context.Context) (item, error) }{
		c.Create(ctx, itemInput{Name: "monitor"}, &item{ID: c.NextTransientID(), Name: "monitor"}),
		c.Update(ctx, 1, itemInput{Name: "laptop pro"}, &item{ID: 1, Name: "laptop pro"}),
		c.Create(ctx, itemInput{Name: "phone"}, nil),
	}
	removed := c.Remove(ctx, 2)
	for _, task := range tasks {
		_, err := task.Wait(ctx)
		require.NoError(t, err)
	}
	_, err = removed.Wait(ctx)
	require.NoError(t, err)

	view, err := c.Refresh(ctx).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, remote.snapshot(), view)
	assert.Equal(t, []string{"laptop pro", "monitor", "phone"}, names(view))
	assert.Equal(t, 0, c.Pending())
}

func TestCoordinatorRollsBackFailedCreate(t *testing.T) {
	ctx := waitCtx(t)
	remote := newFakeRemote(item{ID: 1, Name: "laptop"})
	remote.failCreate["dup"] = errors.New("name already exists")
	c := optimistic.New[item, itemInput](remote)
	defer c.Close()
	_, err := c.Refresh(ctx).Wait(ctx)
	require.NoError(t, err)

	remote.gate()
	opt := item{ID: c.NextTransientID(), Name: "dup"}
	task := c.Create(ctx, itemInput{Name: "dup"}, &opt)

	assert.Equal(t, []item{{ID: 1, Name: "laptop"}, opt}, c.View())
	awaitStarted(t, remote, "dup")
	assert.Contains(t, c.View(), opt, "optimistic entity stays visible while the call is in flight")

	remote.release <- struct{}{}
	_, err = task.Wait(ctx)
	require.Error(t, err)
	var re *optimistic.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "create", re.Op)
	assert.Equal(t, "name already exists", re.Message)

	assert.Equal(t, []item{{ID: 1, Name: "laptop"}}, c.View())
	assert.Equal(t, 0, c.Pending())
}

func TestCoordinatorRefreshDropsQueuedIntents(t *testing.T) {
	ctx := waitCtx(t)
	remote := newFakeRemote()
	remote.gate()
	c := optimistic.New[item, itemInput](remote)
	defer c.Close()

	a := item{ID: c.NextTransientID(), Name: "a"}
	b := item{ID: c.NextTransientID(), Name: "b"}
	taskA := c.Create(ctx, itemInput{Name: "a"}, &a)
	taskB := c.Create(ctx, itemInput{Name: "b"}, &b)
	assert.Equal(t, []item{a, b}, c.View())

	awaitStarted(t, remote, "a")
	remote.release <- struct{}{}
	_, err := taskA.Wait(ctx)
	require.NoError(t, err)

	// B's call is now blocked on the remote; A's refresh dropped its intent.
	awaitStarted(t, remote, "b")
	assert.Equal(t, []string{"a"}, names(c.View()))
	assert.Equal(t, 0, c.Pending())

	remote.release <- struct{}{}
	_, err = taskB.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names(c.View()))
}

func TestCoordinatorInFlightRetention(t *testing.T) {
	ctx := waitCtx(t)
	remote := newFakeRemote()
	remote.gate()
	c := optimistic.New[item, itemInput](remote, optimistic.WithInFlightRetention[item]())
	defer c.Close()

	a := item{ID: c.NextTransientID(), Name: "a"}
	b := item{ID: c.NextTransientID(), Name: "b"}
	taskA := c.Create(ctx, itemInput{Name: "a"}, &a)
	taskB := c.Create(ctx, itemInput{Name: "b"}, &b)

	awaitStarted(t, remote, "a")
	remote.release <- struct{}{}
	created, err := taskA.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, item{ID: 1, Name: "a"}, created)

	awaitStarted(t, remote, "b")
	assert.Equal(t, []item{{ID: 1, Name: "a"}, b}, c.View())
	assert.Equal(t, 1, c.Pending())

	remote.release <- struct{}{}
	_, err = taskB.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []item{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}, c.View())
	assert.Equal(t, 0, c.Pending())
}

func TestCoordinatorRemove(t *testing.T) {
	ctx := waitCtx(t)
	remote := newFakeRemote(item{ID: 1, Name: "laptop"}, item{ID: 2, Name: "vpn"})
	c := optimistic.New[item, itemInput](remote)
	defer c.Close()
	_, err := c.Refresh(ctx).Wait(ctx)
	require.NoError(t, err)

	task := c.Remove(ctx, 2)
	assert.Equal(t, []item{{ID: 1, Name: "laptop"}}, c.View())
	_, err = task.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []item{{ID: 1, Name: "laptop"}}, c.View())

	unknown := c.Remove(ctx, 99)
	assert.Equal(t, []item{{ID: 1, Name: "laptop"}}, c.View())
	_, err = unknown.Wait(ctx)
	var re *optimistic.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "delete", re.Op)
	assert.Equal(t, []item{{ID: 1, Name: "laptop"}}, c.View())
}

func TestCoordinatorWithoutOptimisticEntity(t *testing.T) {
	ctx := waitCtx(t)
	remote := newFakeRemote()
	remote.gate()
	c := optimistic.New[item, itemInput](remote)
	defer c.Close()

	task := c.Create(ctx, itemInput{Name: "quiet"}, nil)
	awaitStarted(t, remote, "quiet")
	assert.Empty(t, c.View())
	assert.Equal(t, 0, c.Pending())

	remote.release <- struct{}{}
	created, err := task.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []item{created}, c.View())
}

func TestCoordinatorTransientIDs(t *testing.T) {
	c := optimistic.New[item, itemInput](newFakeRemote())
	defer c.Close()

	first := c.NextTransientID()
	second := c.NextTransientID()
	assert.Negative(t, first)
	assert.Negative(t, second)
	assert.NotEqual(t, first, second)
}

func TestCoordinatorObserverSeesEveryChange(t *testing.T) {
	ctx := waitCtx(t)
	remote := newFakeRemote()
	remote.gate()

	var mu sync.Mutex
	var seen [][]string
	observer := func(v []item) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, names(v))
	}
	filter := url.Values{"active": {"true"}}
	c := optimistic.New[item, itemInput](remote,
		optimistic.WithObserver(observer),
		optimistic.WithFilter[item](filter),
	)
	defer c.Close()

	task := c.Create(ctx, itemInput{Name: "a"}, &item{ID: c.NextTransientID(), Name: "a"})
	awaitStarted(t, remote, "a")
	remote.release <- struct{}{}
	_, err := task.Wait(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, []string{"a"}, seen[0], "fold is observed before the remote call")
	assert.Equal(t, []string{"a"}, seen[1], "refresh is observed after the call")

	remote.mu.Lock()
	defer remote.mu.Unlock()
	require.NotEmpty(t, remote.filters)
	assert.Equal(t, filter, remote.filters[0])
}

func TestCoordinatorRefreshFailureKeepsConfirmedBase(t *testing.T) {
	ctx := waitCtx(t)
	remote := newFakeRemote(item{ID: 1, Name: "laptop"})
	c := optimistic.New[item, itemInput](remote)
	defer c.Close()
	_, err := c.Refresh(ctx).Wait(ctx)
	require.NoError(t, err)

	remote.mu.Lock()
	remote.failList = errors.New("connection refused")
	remote.mu.Unlock()

	view, err := c.Refresh(ctx).Wait(ctx)
	var re *optimistic.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "list", re.Op)
	assert.Equal(t, []item{{ID: 1, Name: "laptop"}}, view)

	// The create succeeds but its reconciling fetch does not.
	task := c.Create(ctx, itemInput{Name: "vpn"}, &item{ID: c.NextTransientID(), Name: "vpn"})
	_, err = task.Wait(ctx)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "list", re.Op)
	assert.Equal(t, []item{{ID: 1, Name: "laptop"}}, c.View())
}

func TestCoordinatorClose(t *testing.T) {
	ctx := waitCtx(t)
	remote := newFakeRemote()
	c := optimistic.New[item, itemInput](remote)

	queued := c.Create(ctx, itemInput{Name: "a"}, nil)
	c.Close()
	select {
	case <-queued.Done():
	default:
		t.Fatal("Close returned before queued work settled")
	}
	require.NoError(t, queued.Err())

	_, err := c.Create(ctx, itemInput{Name: "b"}, nil).Wait(ctx)
	assert.ErrorIs(t, err, optimistic.ErrClosed)
	_, err = c.Refresh(ctx).Wait(ctx)
	assert.ErrorIs(t, err, optimistic.ErrClosed)
	assert.Equal(t, []string{"a"}, names(remote.snapshot()))
}

func TestCoordinatorCallsIgnoreCallerCancellation(t *testing.T) {
	remote := newFakeRemote()
	remote.gate()
	c := optimistic.New[item, itemInput](remote)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	task := c.Create(ctx, itemInput{Name: "a"}, nil)
	awaitStarted(t, remote, "a")
	cancel()

	_, err := task.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	remote.release <- struct{}{}
	created, err := task.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "a", created.Name)
}
