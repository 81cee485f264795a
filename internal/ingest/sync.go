package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/socialdesk/internal/events"
	"github.com/zulandar/socialdesk/internal/models"
	"github.com/zulandar/socialdesk/internal/social"
	"gorm.io/gorm"
)

// Defaults for OrchestratorOpts.
const (
	DefaultFetchTimeout = 30 * time.Second
	titleLength         = 40
)

// Sync run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunSkipped   = "skipped"
	RunFailed    = "failed"
)

// ClientProvider returns the platform client for a channel.
type ClientProvider interface {
	ForChannel(ch models.Channel) (social.Client, error)
}

// ClientFunc adapts a function to a ClientProvider.
type ClientFunc func(ch models.Channel) (social.Client, error)

// ForChannel calls f(ch).
func (f ClientFunc) ForChannel(ch models.Channel) (social.Client, error) { return f(ch) }

// Orchestrator drives fetch cycles: it pulls every configured source of a
// channel and feeds the items through normalization, dedup, threading and
// the ticket lifecycle.
type Orchestrator struct {
	db           *gorm.DB
	clients      ClientProvider
	producer     events.TicketEventProducer
	dedup        *DedupIndex
	resolver     ThreadResolver
	fetchTimeout time.Duration
	lockTimeout  time.Duration
	holder       string
	now          func() time.Time
}

// OrchestratorOpts holds parameters for creating an Orchestrator.
type OrchestratorOpts struct {
	DB           *gorm.DB
	Clients      ClientProvider
	Producer     events.TicketEventProducer // optional
	FetchTimeout time.Duration              // per source; defaults to DefaultFetchTimeout
	LockTimeout  time.Duration              // defaults to DefaultLockTimeout
	Holder       string                     // lock holder id; defaults to a random UUID
	Now          func() time.Time           // defaults to time.Now
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts OrchestratorOpts) (*Orchestrator, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("ingest: orchestrator: db is required")
	}
	if opts.Clients == nil {
		return nil, fmt.Errorf("ingest: orchestrator: client provider is required")
	}
	o := &Orchestrator{
		db:           opts.DB,
		clients:      opts.Clients,
		producer:     opts.Producer,
		dedup:        NewDedupIndex(opts.DB),
		fetchTimeout: opts.FetchTimeout,
		lockTimeout:  opts.LockTimeout,
		holder:       opts.Holder,
		now:          opts.Now,
	}
	if o.producer == nil {
		o.producer = events.Noop{}
	}
	if o.fetchTimeout <= 0 {
		o.fetchTimeout = DefaultFetchTimeout
	}
	if o.lockTimeout <= 0 {
		o.lockTimeout = DefaultLockTimeout
	}
	if o.holder == "" {
		o.holder = uuid.NewString()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// CycleReport summarizes one fetch cycle.
type CycleReport struct {
	RunID          string
	ChannelID      uint
	Channel        string
	Status         string
	Imported       int
	TicketsCreated int
	Duplicates     int
	SelfAuthored   int
	Failed         int
	SourceErrors   []error
}

// RunAll runs one cycle for every active channel, in ID order. A channel
// whose lock is held is skipped. Errors of individual channels are logged
// and collected; they never stop the remaining channels.
func (o *Orchestrator) RunAll(ctx context.Context) ([]*CycleReport, error) {
	var channels []models.Channel
	if err := o.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("ingest: list channels: %w", err)
	}
	var reports []*CycleReport
	var errs []error
	for _, ch := range channels {
		report, err := o.RunCycle(ctx, ch.ID)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil && !errors.Is(err, ErrLockHeld) {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}

// RunCycle runs one fetch cycle for a channel. It returns an error wrapping
// ErrLockHeld, with a skipped report, when another cycle owns the channel.
func (o *Orchestrator) RunCycle(ctx context.Context, channelID uint) (*CycleReport, error) {
	var ch models.Channel
	if err := o.db.WithContext(ctx).First(&ch, channelID).Error; err != nil {
		return nil, fmt.Errorf("ingest: load channel %d: %w", channelID, err)
	}
	report := &CycleReport{RunID: uuid.NewString(), ChannelID: ch.ID, Channel: ch.Name}
	logger := log.With().Str("channel", ch.Name).Str("run_id", report.RunID).Logger()

	if !ch.Active {
		report.Status = RunSkipped
		logger.Debug().Msg("channel inactive, skipping")
		return report, nil
	}

	if err := AcquireChannelLock(o.db.WithContext(ctx), ch.ID, o.holder, o.lockTimeout); err != nil {
		report.Status = RunSkipped
		o.recordRun(report, err, o.now())
		if errors.Is(err, ErrLockHeld) {
			logger.Info().Err(err).Msg("fetch cycle skipped")
		}
		return report, err
	}
	defer func() {
		if err := ReleaseChannelLock(o.db, ch.ID, o.holder); err != nil {
			logger.Warn().Err(err).Msg("release channel lock")
		}
	}()

	started := o.now()
	cc, err := ChannelConfigFromModel(ch)
	if err != nil {
		report.Status = RunFailed
		o.recordRun(report, err, started)
		return report, err
	}
	client, err := o.clients.ForChannel(ch)
	if err != nil {
		report.Status = RunFailed
		err = fmt.Errorf("ingest: client for channel %q: %w", ch.Name, err)
		o.recordRun(report, err, started)
		return report, err
	}

	norm := Normalizer{ThreeByteUTF8: cc.ThreeByteUTF8, Now: o.now}
	for _, src := range o.sources(cc) {
		if ctx.Err() != nil {
			break
		}
		items, err := o.fetchSource(ctx, client, cc, norm, src)
		if err != nil {
			report.SourceErrors = append(report.SourceErrors, err)
			logger.Warn().Err(err).Str("source", src.name).Msg("source skipped for this cycle")
			continue
		}
		for _, item := range items {
			if ctx.Err() != nil {
				break
			}
			o.processOne(ctx, logger, cc, item, report)
		}
		if err := HeartbeatChannelLock(o.db, ch.ID, o.holder); err != nil {
			logger.Warn().Err(err).Msg("heartbeat channel lock")
		}
	}

	report.Status = RunCompleted
	if ctx.Err() != nil {
		report.Status = RunFailed
	}
	o.recordRun(report, ctx.Err(), started)
	logger.Info().
		Int("imported", report.Imported).
		Int("tickets_created", report.TicketsCreated).
		Int("duplicates", report.Duplicates).
		Int("failed", report.Failed).
		Int("source_errors", len(report.SourceErrors)).
		Msg("fetch cycle finished")
	return report, ctx.Err()
}

// source is one fetchable source of a channel.
type source struct {
	name string
	term string
}

// sources lists the configured sources in declared order: searches, then
// mentions, then direct messages.
func (o *Orchestrator) sources(cc ChannelConfig) []source {
	var out []source
	for _, st := range cc.SearchTerms {
		out = append(out, source{name: social.SourceSearch, term: st.Term})
	}
	if cc.MentionsGroupID != 0 {
		out = append(out, source{name: social.SourceMentions})
	}
	if cc.DirectMessagesGroupID != 0 {
		out = append(out, source{name: social.SourceDirectMessages})
	}
	return out
}

// fetchSource pulls one source under the fetch timeout and returns its
// normalized items oldest-first. Items that fail to normalize are dropped.
func (o *Orchestrator) fetchSource(ctx context.Context, client social.Client, cc ChannelConfig, norm Normalizer, src source) ([]InboundItem, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	defer cancel()

	var items []InboundItem
	add := func(item InboundItem, err error) {
		if err != nil {
			log.Warn().Err(err).Str("channel", cc.Name).Str("source", src.name).Msg("dropping malformed item")
			return
		}
		items = append(items, item)
	}

	switch src.name {
	case social.SourceSearch:
		posts, err := client.FetchStatusSearch(fetchCtx, src.term)
		if err != nil {
			return nil, &TransportError{Source: src.name, Term: src.term, Err: err}
		}
		for _, p := range posts {
			add(norm.NormalizePost(KindStatusPost, p, cc.matchTerms(src.term, p.Text)))
		}
	case social.SourceMentions:
		posts, err := client.FetchMentions(fetchCtx, cc.Account)
		if err != nil {
			return nil, &TransportError{Source: src.name, Err: err}
		}
		for _, p := range posts {
			add(norm.NormalizePost(KindMention, p, nil))
		}
	case social.SourceDirectMessages:
		dms, err := client.FetchDirectMessages(fetchCtx)
		if err != nil {
			return nil, &TransportError{Source: src.name, Err: err}
		}
		for _, dm := range dms {
			add(norm.NormalizeDirectMessage(dm))
		}
	}

	sortOldestFirst(items)
	return items, nil
}

// sortOldestFirst orders items by posting time; ties and missing timestamps
// fall back to the platform ID so the order is stable across cycles.
func sortOldestFirst(items []InboundItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.PostedAt.Equal(b.PostedAt) {
			return a.PostedAt.Before(b.PostedAt)
		}
		if len(a.PlatformID) != len(b.PlatformID) {
			return len(a.PlatformID) < len(b.PlatformID)
		}
		return a.PlatformID < b.PlatformID
	})
}

// processOne runs one item through the pipeline and tallies the outcome.
// Failures are logged and left for the next cycle.
func (o *Orchestrator) processOne(ctx context.Context, logger zerolog.Logger, cc ChannelConfig, item InboundItem, report *CycleReport) {
	l := logger.With().Str("platform_id", item.PlatformID).Str("kind", string(item.Kind)).Logger()
	created, ticket, article, err := o.ImportItem(ctx, cc, item)
	switch {
	case errors.Is(err, errSelfAuthored):
		report.SelfAuthored++
		l.Debug().Msg("skipping own item")
	case errors.Is(err, ErrDuplicateItem):
		report.Duplicates++
		l.Debug().Msg("already imported")
	case err != nil:
		report.Failed++
		l.Error().Err(err).Msg("import failed, will retry next cycle")
	default:
		report.Imported++
		if created {
			report.TicketsCreated++
		}
		l.Info().Uint("ticket_id", ticket.ID).Uint("article_id", article.ID).Bool("new_ticket", created).
			Str("state", string(ticket.State)).Msg("item imported")
	}
}

var errSelfAuthored = errors.New("ingest: item authored by channel account")

// ImportItem imports a single normalized item for a channel: dedup check,
// thread resolution, ticket creation or lifecycle transition and article
// insert, committed in one transaction. Returns ErrDuplicateItem when the
// item was already imported.
func (o *Orchestrator) ImportItem(ctx context.Context, cc ChannelConfig, item InboundItem) (bool, *models.Ticket, *models.Article, error) {
	if cc.Account != "" && equalHandles(item.Author, cc.Account) {
		return false, nil, nil, errSelfAuthored
	}
	seen, err := o.dedup.HasImported(ctx, item.PlatformID)
	if err != nil {
		return false, nil, nil, err
	}
	if seen {
		return false, nil, nil, ErrDuplicateItem
	}

	var (
		created bool
		ticket  *models.Ticket
		article *models.Article
	)
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res, err := o.resolver.Resolve(tx, item, cc)
		if err != nil {
			return err
		}
		if res.Ambiguous {
			log.Warn().Err(ErrThreadAmbiguous).Str("channel", cc.Name).Str("platform_id", item.PlatformID).
				Str("reason", res.Reason).Msg("starting new ticket")
		}
		now := o.now()

		group := res.GroupID
		var from models.TicketState
		ticket = res.Ticket
		if ticket != nil {
			prev, ok, err := claimInbound(tx, ticket, now)
			if err != nil {
				return err
			}
			if !ok {
				// Closed (or otherwise changed) after it was resolved.
				log.Info().Str("channel", cc.Name).Str("platform_id", item.PlatformID).
					Uint("ticket_id", ticket.ID).Msg("ticket changed during import, starting new ticket")
				group = ticket.GroupID
				ticket = nil
			}
			from = prev
		}
		if ticket == nil {
			ticket = &models.Ticket{
				Title:          ticketTitle(item.Body),
				GroupID:        group,
				ChannelID:      cc.ID,
				CustomerHandle: item.Author,
				State:          InitialState,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := tx.Create(ticket).Error; err != nil {
				return fmt.Errorf("ingest: create ticket: %w", err)
			}
			created = true
		}

		msgID := item.PlatformID
		article = &models.Article{
			TicketID:  ticket.ID,
			MessageID: &msgID,
			InReplyTo: item.InReplyTo,
			Kind:      item.Kind.articleKind(),
			Sender:    models.SenderCustomer,
			From:      item.Author,
			To:        item.Recipient,
			Body:      item.Body,
			CreatedAt: now,
		}
		if err := o.dedup.MarkImported(tx, article); err != nil {
			return err
		}

		if created {
			return recordTransition(tx, ticket.ID, "", ticket.State, HistorySourceInbound, &article.ID, now)
		}
		if from == ticket.State {
			return nil
		}
		return recordTransition(tx, ticket.ID, from, ticket.State, HistorySourceInbound, &article.ID, now)
	})
	if err != nil {
		if isDuplicate(err) {
			return false, nil, nil, ErrDuplicateItem
		}
		return false, nil, nil, err
	}

	if created {
		o.producer.ProduceTicketEvent(ctx, events.TicketCreated, ticketPayload(ticket))
	}
	o.producer.ProduceTicketEvent(ctx, events.ArticleCreated, articlePayload(ticket, article))
	return created, ticket, article, nil
}

// recordRun writes the sync_runs row for a cycle. Failures are only logged.
func (o *Orchestrator) recordRun(report *CycleReport, runErr error, started time.Time) {
	done := o.now()
	run := models.SyncRun{
		RunID:       report.RunID,
		ChannelID:   report.ChannelID,
		Status:      report.Status,
		Imported:    report.Imported,
		Duplicates:  report.Duplicates,
		Failed:      report.Failed,
		SourceErrs:  len(report.SourceErrors),
		StartedAt:   started,
		CompletedAt: &done,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := o.db.Create(&run).Error; err != nil {
		log.Warn().Err(err).Str("run_id", report.RunID).Msg("record sync run")
	}
}

// ticketTitle derives a title from the first characters of the body.
func ticketTitle(body string) string {
	if utf8.RuneCountInString(body) <= titleLength {
		return body
	}
	return string([]rune(body)[:titleLength])
}

func equalHandles(a, b string) bool {
	a, b = normalizeHandle(a), normalizeHandle(b)
	return a != "" && strings.EqualFold(a, b)
}

func ticketPayload(t *models.Ticket) map[string]interface{} {
	return map[string]interface{}{
		"ticket_id":  t.ID,
		"group_id":   t.GroupID,
		"channel_id": t.ChannelID,
		"customer":   t.CustomerHandle,
		"state":      string(t.State),
		"title":      t.Title,
	}
}

func articlePayload(t *models.Ticket, a *models.Article) map[string]interface{} {
	p := map[string]interface{}{
		"ticket_id":  t.ID,
		"article_id": a.ID,
		"kind":       a.Kind,
		"sender":     a.Sender,
		"from":       a.From,
		"state":      string(t.State),
	}
	if a.MessageID != nil {
		p["message_id"] = *a.MessageID
	}
	return p
}
