package ticket

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zulandar/socialdesk/internal/db"
	"github.com/zulandar/socialdesk/internal/ingest"
	"github.com/zulandar/socialdesk/internal/models"
	"github.com/zulandar/socialdesk/internal/social"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.OpenInMemory()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return gdb
}

// fakePublisher records publish calls and stamps a remote ID.
type fakePublisher struct {
	db       *gorm.DB
	err      error
	checkErr error
	calls    []uint
}

func (f *fakePublisher) Check(context.Context, *models.Article) error { return f.checkErr }

func (f *fakePublisher) Publish(ctx context.Context, articleID uint) (*models.Article, error) {
	f.calls = append(f.calls, articleID)
	if f.err != nil {
		return nil, &ingest.PublishError{ArticleID: articleID, Err: f.err}
	}
	id := "remote-1"
	if err := f.db.Model(&models.Article{}).Where("id = ?", articleID).Update("message_id", id).Error; err != nil {
		return nil, err
	}
	var a models.Article
	f.db.First(&a, articleID)
	return &a, nil
}

type testEnv struct {
	db      *gorm.DB
	svc     *Service
	pub     *fakePublisher
	channel models.Channel
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gdb := openTestDB(t)
	ch := models.Channel{Name: "tw", Platform: "twitter", Account: "desk", Active: true}
	if err := gdb.Create(&ch).Error; err != nil {
		t.Fatalf("create channel: %v", err)
	}
	pub := &fakePublisher{db: gdb}
	svc, err := NewService(ServiceOpts{DB: gdb, Publisher: pub})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &testEnv{db: gdb, svc: svc, pub: pub, channel: ch}
}

func (e *testEnv) createTicket(t *testing.T, group uint, state models.TicketState, customer string, updated time.Time) models.Ticket {
	t.Helper()
	tk := models.Ticket{
		Title: "t", GroupID: group, ChannelID: e.channel.ID, CustomerHandle: customer,
		State: state, CreatedAt: updated, UpdatedAt: updated,
	}
	if err := e.db.Create(&tk).Error; err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return tk
}

func TestNewService_RequiresDB(t *testing.T) {
	if _, err := NewService(ServiceOpts{}); err == nil {
		t.Fatal("expected error without db")
	}
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to models.TicketState
		want     bool
	}{
		{models.TicketStateNew, models.TicketStateOpen, true},
		{models.TicketStateNew, models.TicketStateClosed, true},
		{models.TicketStateOpen, models.TicketStatePendingReminder, true},
		{models.TicketStatePendingReminder, models.TicketStateOpen, true},
		{models.TicketStateClosed, models.TicketStateOpen, true},
		{models.TicketStateClosed, models.TicketStatePendingReminder, false},
		{models.TicketStateOpen, models.TicketStateNew, false},
	}
	for _, tt := range tests {
		if got := isValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("isValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestList_FiltersAndOrder(t *testing.T) {
	e := newTestEnv(t)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	a := e.createTicket(t, 1, models.TicketStateOpen, "alice", base)
	b := e.createTicket(t, 2, models.TicketStateOpen, "bob", base.Add(time.Hour))
	c := e.createTicket(t, 2, models.TicketStateClosed, "Alice", base.Add(2*time.Hour))
	ctx := context.Background()

	all, err := e.svc.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 || all[0].ID != c.ID || all[2].ID != a.ID {
		t.Errorf("List order = %v, want most recently updated first", ids(all))
	}

	group2, _ := e.svc.List(ctx, Filter{GroupID: 2})
	if len(group2) != 2 {
		t.Errorf("GroupID filter: got %d tickets, want 2", len(group2))
	}

	open, _ := e.svc.List(ctx, Filter{State: models.TicketStateOpen})
	if len(open) != 2 || open[0].ID != b.ID {
		t.Errorf("State filter = %v, want [%d %d]", ids(open), b.ID, a.ID)
	}

	alice, _ := e.svc.List(ctx, Filter{Customer: "@ALICE"})
	if len(alice) != 2 {
		t.Errorf("Customer filter: got %d tickets, want 2", len(alice))
	}

	page, _ := e.svc.List(ctx, Filter{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID != b.ID {
		t.Errorf("paging = %v, want [%d]", ids(page), b.ID)
	}
}

func ids(ts []models.Ticket) []uint {
	out := make([]uint, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

func TestGet(t *testing.T) {
	e := newTestEnv(t)
	tk := e.createTicket(t, 1, models.TicketStateNew, "alice", time.Now())
	for _, body := range []string{"first", "second"} {
		e.db.Create(&models.Article{TicketID: tk.ID, Kind: models.ArticleKindNote, Sender: models.SenderAgent, Body: body, Internal: true})
	}

	got, err := e.svc.Get(context.Background(), tk.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Articles) != 2 || got.Articles[0].Body != "first" {
		t.Errorf("Articles = %+v, want [first second]", got.Articles)
	}

	_, err = e.svc.Get(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(999) err = %v, want ErrNotFound", err)
	}
}

func TestSetState_RecordsHistoryAndClosedAt(t *testing.T) {
	e := newTestEnv(t)
	tk := e.createTicket(t, 1, models.TicketStateNew, "alice", time.Now())
	ctx := context.Background()

	got, err := e.svc.SetState(ctx, tk.ID, models.TicketStatePendingReminder)
	if err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if got.State != models.TicketStatePendingReminder {
		t.Errorf("State = %q, want %q", got.State, models.TicketStatePendingReminder)
	}

	if _, err := e.svc.SetState(ctx, tk.ID, models.TicketStateClosed); err != nil {
		t.Fatalf("SetState closed: %v", err)
	}
	stored, _ := e.svc.Get(ctx, tk.ID)
	if stored.ClosedAt == nil {
		t.Error("ClosedAt should be set when closing")
	}

	if _, err := e.svc.SetState(ctx, tk.ID, models.TicketStateOpen); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	stored, _ = e.svc.Get(ctx, tk.ID)
	if stored.ClosedAt != nil {
		t.Error("ClosedAt should be cleared on reopen")
	}

	history, err := e.svc.History(ctx, tk.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history rows = %d, want 3", len(history))
	}
	if history[0].FromState != models.TicketStateNew || history[0].ToState != models.TicketStatePendingReminder {
		t.Errorf("history[0] = %s -> %s", history[0].FromState, history[0].ToState)
	}
	for _, h := range history {
		if h.Source != ingest.HistorySourceAgent {
			t.Errorf("Source = %q, want %q", h.Source, ingest.HistorySourceAgent)
		}
	}
}

func TestSetState_Errors(t *testing.T) {
	e := newTestEnv(t)
	tk := e.createTicket(t, 1, models.TicketStateClosed, "alice", time.Now())
	ctx := context.Background()

	if _, err := e.svc.SetState(ctx, tk.ID, "archived"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("unknown state: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := e.svc.SetState(ctx, tk.ID, models.TicketStatePendingReminder); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("closed -> pending_reminder: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := e.svc.SetState(ctx, 404, models.TicketStateOpen); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing ticket: err = %v, want ErrNotFound", err)
	}
	if _, err := e.svc.SetState(ctx, tk.ID, models.TicketStateClosed); err != nil {
		t.Errorf("same state should be a no-op, got %v", err)
	}
}

func TestAddArticle_PublishesAgentReply(t *testing.T) {
	e := newTestEnv(t)
	tk := e.createTicket(t, 1, models.TicketStateOpen, "alice", time.Now())

	got, err := e.svc.AddArticle(context.Background(), tk.ID, ArticleInput{Body: "  hello  "})
	if err != nil {
		t.Fatalf("AddArticle: %v", err)
	}
	if got.MessageID == nil || *got.MessageID != "remote-1" {
		t.Errorf("MessageID = %v, want remote-1", got.MessageID)
	}
	if got.Body != "hello" {
		t.Errorf("Body = %q, want %q", got.Body, "hello")
	}
	if got.From != "desk" {
		t.Errorf("From = %q, want channel account %q", got.From, "desk")
	}
	if got.Sender != models.SenderAgent {
		t.Errorf("Sender = %q, want %q", got.Sender, models.SenderAgent)
	}
	if len(e.pub.calls) != 1 {
		t.Errorf("publish calls = %d, want 1", len(e.pub.calls))
	}
}

func TestAddArticle_InternalNoteNotPublished(t *testing.T) {
	e := newTestEnv(t)
	tk := e.createTicket(t, 1, models.TicketStateOpen, "alice", time.Now())

	got, err := e.svc.AddArticle(context.Background(), tk.ID, ArticleInput{Body: "vip customer", Internal: true})
	if err != nil {
		t.Fatalf("AddArticle: %v", err)
	}
	if got.Kind != models.ArticleKindNote {
		t.Errorf("Kind = %q, want %q", got.Kind, models.ArticleKindNote)
	}
	if got.MessageID != nil {
		t.Errorf("MessageID = %q, want nil", *got.MessageID)
	}
	if len(e.pub.calls) != 0 {
		t.Errorf("publish calls = %d, want 0", len(e.pub.calls))
	}
}

func TestAddArticle_PublishErrorSurfaced(t *testing.T) {
	e := newTestEnv(t)
	tk := e.createTicket(t, 1, models.TicketStateOpen, "alice", time.Now())
	e.pub.err = errors.New("platform down")

	stored, err := e.svc.AddArticle(context.Background(), tk.ID, ArticleInput{Body: "hello"})
	var pe *ingest.PublishError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ingest.PublishError", err)
	}
	if stored == nil || stored.ID != pe.ArticleID {
		t.Fatalf("stored article = %+v, want ID %d", stored, pe.ArticleID)
	}

	// The article is kept so the agent can retry.
	var n int64
	e.db.Model(&models.Article{}).Where("ticket_id = ? AND message_id IS NULL", tk.ID).Count(&n)
	if n != 1 {
		t.Errorf("unpublished articles = %d, want 1", n)
	}

	e.pub.err = nil
	if _, err := e.svc.Publish(context.Background(), pe.ArticleID); err != nil {
		t.Errorf("retry Publish: %v", err)
	}
}

func TestAddArticle_Validation(t *testing.T) {
	e := newTestEnv(t)
	tk := e.createTicket(t, 1, models.TicketStateOpen, "alice", time.Now())
	ctx := context.Background()

	if _, err := e.svc.AddArticle(ctx, tk.ID, ArticleInput{Body: "  "}); !errors.Is(err, ErrInvalidArticle) {
		t.Errorf("empty body: err = %v, want ErrInvalidArticle", err)
	}
	if _, err := e.svc.AddArticle(ctx, tk.ID, ArticleInput{Body: "x", Kind: "fax"}); !errors.Is(err, ErrInvalidArticle) {
		t.Errorf("bad kind: err = %v, want ErrInvalidArticle", err)
	}
	if _, err := e.svc.AddArticle(ctx, 404, ArticleInput{Body: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing ticket: err = %v, want ErrNotFound", err)
	}
}

func TestAddArticle_WithIngestPublisher(t *testing.T) {
	e := newTestEnv(t)
	client := social.NewMockClient()
	pub, err := ingest.NewPublisher(ingest.PublisherOpts{
		DB:      e.db,
		Clients: ingest.ClientFunc(func(models.Channel) (social.Client, error) { return client, nil }),
	})
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	svc, _ := NewService(ServiceOpts{DB: e.db, Publisher: pub})
	tk := e.createTicket(t, 1, models.TicketStateOpen, "alice", time.Now())

	got, err := svc.AddArticle(context.Background(), tk.ID, ArticleInput{Body: "hi", Kind: models.ArticleKindDirectMessage})
	if err != nil {
		t.Fatalf("AddArticle: %v", err)
	}
	sent := client.AllPublished()
	if len(sent) != 1 || !sent[0].Direct || sent[0].Recipient != "alice" {
		t.Fatalf("published = %+v, want one DM to alice", sent)
	}
	if got.MessageID == nil || *got.MessageID != sent[0].ID {
		t.Errorf("MessageID = %v, want %q", got.MessageID, sent[0].ID)
	}
}

func TestAddArticle_UnroutableRejectedBeforeStore(t *testing.T) {
	e := newTestEnv(t)
	client := social.NewMockClient()
	pub, err := ingest.NewPublisher(ingest.PublisherOpts{
		DB:      e.db,
		Clients: ingest.ClientFunc(func(models.Channel) (social.Client, error) { return client, nil }),
	})
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	svc, _ := NewService(ServiceOpts{DB: e.db, Publisher: pub})
	tk := e.createTicket(t, 1, models.TicketStateOpen, "", time.Now())

	got, err := svc.AddArticle(context.Background(), tk.ID, ArticleInput{Body: "hi", Kind: models.ArticleKindDirectMessage})
	if !errors.Is(err, ingest.ErrNotPublishable) {
		t.Fatalf("err = %v, want ErrNotPublishable", err)
	}
	if got != nil {
		t.Errorf("article = %+v, want nil", got)
	}
	var n int64
	e.db.Model(&models.Article{}).Where("ticket_id = ?", tk.ID).Count(&n)
	if n != 0 {
		t.Errorf("articles = %d, want 0", n)
	}
	if sent := client.AllPublished(); len(sent) != 0 {
		t.Errorf("published = %+v, want none", sent)
	}
}

func TestAddArticle_CheckErrorStoresNothing(t *testing.T) {
	e := newTestEnv(t)
	tk := e.createTicket(t, 1, models.TicketStateOpen, "alice", time.Now())
	e.pub.checkErr = ingest.ErrNotPublishable

	if _, err := e.svc.AddArticle(context.Background(), tk.ID, ArticleInput{Body: "hello"}); !errors.Is(err, ingest.ErrNotPublishable) {
		t.Fatalf("err = %v, want ErrNotPublishable", err)
	}
	if len(e.pub.calls) != 0 {
		t.Errorf("publish calls = %d, want 0", len(e.pub.calls))
	}

	// Internal notes skip the routing check.
	if _, err := e.svc.AddArticle(context.Background(), tk.ID, ArticleInput{Body: "note", Internal: true}); err != nil {
		t.Errorf("internal note: %v", err)
	}
}
