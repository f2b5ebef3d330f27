// Package sync drives one user's mailbox-to-invoice run end to end and
// fans out over all eligible users. Every stage failure after the
// credential refresh is captured at the smallest possible granularity
// (per message, per archive entry, per record) so one bad item never
// aborts a run.
package sync

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/facturad/internal/archive"
	"github.com/fyrsmithlabs/facturad/internal/classify"
	"github.com/fyrsmithlabs/facturad/internal/invoice"
	"github.com/fyrsmithlabs/facturad/internal/logging"
	"github.com/fyrsmithlabs/facturad/internal/mailbox"
	"github.com/fyrsmithlabs/facturad/internal/store"
)

// State is a sync run's position in its lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateRefreshing  State = "refreshing"
	StateDiscovering State = "discovering"
	StateExtracting  State = "extracting"
	StateClassifying State = "classifying"
	StatePersisting  State = "persisting"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Outcome is the per-user result of one run.
type Outcome struct {
	UserID    string `json:"userId"`
	Created   int    `json:"created"`
	Duplicate int    `json:"duplicate"`
	Failed    int    `json:"failed"`
}

// MailboxClient is the mail provider surface the runner needs.
type MailboxClient interface {
	RefreshAccessToken(ctx context.Context, refreshCredential string) (string, error)
	Search(ctx context.Context, token string) ([]string, int)
	GetMessage(ctx context.Context, token, messageID string) (*mailbox.Message, error)
	CollectAttachments(ctx context.Context, token string, msg *mailbox.Message) ([]mailbox.Attachment, int)
}

// InvoiceStore is the persistence surface the runner needs.
type InvoiceStore interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	ListUsersWithCredential(ctx context.Context) ([]store.User, error)
	InsertInvoice(ctx context.Context, rec invoice.Record) error
	TouchLastSync(ctx context.Context, userID string, at time.Time) error
}

// Runner executes sync runs.
type Runner struct {
	mail       MailboxClient
	rules      *classify.RuleClassifier
	fallback   classify.BatchClassifier
	store      InvoiceStore
	logger     *logging.Logger
	fiscalYear int
}

// NewRunner wires the pipeline together.
func NewRunner(mail MailboxClient, rules *classify.RuleClassifier, fallback classify.BatchClassifier, st InvoiceStore, logger *logging.Logger, fiscalYear int) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		mail:       mail,
		rules:      rules,
		fallback:   fallback,
		store:      st,
		logger:     logger.Named("sync"),
		fiscalYear: fiscalYear,
	}
}

// RunOne syncs a single user by id.
func (r *Runner) RunOne(ctx context.Context, userID string) (Outcome, error) {
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return Outcome{}, err
	}
	return r.Run(ctx, *user), nil
}

// RunAll syncs every user holding a stored refresh credential,
// sequentially. Per-user failures are isolated and never abort the
// fan-out; an error is returned only when the population itself cannot
// be listed.
func (r *Runner) RunAll(ctx context.Context) ([]Outcome, error) {
	users, err := r.store.ListUsersWithCredential(ctx)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(users))
	for _, user := range users {
		outcomes = append(outcomes, r.Run(ctx, user))
	}
	return outcomes, nil
}

// Run executes the pipeline for one user:
// refresh -> discover -> extract -> classify -> persist.
func (r *Runner) Run(ctx context.Context, user store.User) Outcome {
	ctx = logging.WithUserID(ctx, user.ID)
	ctx = logging.WithRunID(ctx, uuid.NewString())
	out := Outcome{UserID: user.ID}
	state := StateIdle

	setState := func(next State) {
		state = next
		r.logger.Debug(ctx, "state transition", zap.String("state", string(state)))
	}

	// A refresh failure is fatal for this user's run: without an access
	// token nothing can be fetched.
	setState(StateRefreshing)
	token, err := r.mail.RefreshAccessToken(ctx, user.RefreshCredential)
	if err != nil {
		r.logger.Error(ctx, "credential refresh failed, aborting run", zap.Error(err))
		out.Failed++
		setState(StateFailed)
		return out
	}

	setState(StateDiscovering)
	messageIDs, failedQueries := r.mail.Search(ctx, token)
	out.Failed += failedQueries

	setState(StateExtracting)
	candidates := r.extract(ctx, token, messageIDs, &out)

	setState(StateClassifying)
	classified := r.classify(ctx, candidates)

	setState(StatePersisting)
	for _, inv := range classified {
		err := r.store.InsertInvoice(ctx, invoice.NewRecord(user.ID, inv))
		switch {
		case errors.Is(err, store.ErrDuplicate):
			// Dedup working as intended, never a failure.
			out.Duplicate++
		case err != nil:
			r.logger.Warn(ctx, "invoice write failed",
				zap.String("access_key", inv.AccessKey),
				zap.Error(err))
			out.Failed++
		default:
			out.Created++
		}
	}

	if err := r.store.TouchLastSync(ctx, user.ID, time.Now()); err != nil {
		r.logger.Warn(ctx, "failed to record last sync time", zap.Error(err))
	}

	setState(StateDone)
	r.logger.Info(ctx, "sync run complete",
		zap.Int("created", out.Created),
		zap.Int("duplicate", out.Duplicate),
		zap.Int("failed", out.Failed))
	return out
}

// extract fetches each discovered message, walks its attachments,
// decodes containers and parses candidates. Failures are per message,
// per attachment and per archive entry.
func (r *Runner) extract(ctx context.Context, token string, messageIDs []string, out *Outcome) []*invoice.Candidate {
	var candidates []*invoice.Candidate

	for _, id := range messageIDs {
		msg, err := r.mail.GetMessage(ctx, token, id)
		if err != nil {
			r.logger.Warn(ctx, "message fetch failed",
				zap.String("message_id", id),
				zap.Error(err))
			out.Failed++
			continue
		}

		attachments, failed := r.mail.CollectAttachments(ctx, token, msg)
		out.Failed += failed

		for _, att := range attachments {
			docs, failed := r.decode(ctx, att)
			out.Failed += failed

			for _, doc := range docs {
				markup, err := invoice.Normalize(doc)
				if errors.Is(err, invoice.ErrNotInvoice) {
					// Expected filtering, not an error.
					r.logger.Debug(ctx, "document is not an invoice",
						zap.String("message_id", id),
						zap.String("filename", att.Filename))
					continue
				}
				if err != nil {
					out.Failed++
					continue
				}

				if c := invoice.Parse(markup, r.fiscalYear); c != nil {
					candidates = append(candidates, c)
				}
			}
		}
	}

	return candidates
}

// decode turns one raw attachment into zero or more document byte
// slices. Archives are unpacked entry by entry; a corrupt or
// unsupported entry is counted and skipped without failing its
// siblings.
func (r *Runner) decode(ctx context.Context, att mailbox.Attachment) ([][]byte, int) {
	if !strings.HasSuffix(strings.ToLower(att.Filename), ".zip") {
		return [][]byte{att.Data}, 0
	}

	failed := 0
	entries, err := archive.Extract(att.Data, func(name string, reason error) {
		r.logger.Warn(ctx, "archive entry skipped",
			zap.String("filename", att.Filename),
			zap.String("entry", name),
			zap.Error(reason))
		failed++
	})
	if err != nil {
		r.logger.Warn(ctx, "archive unreadable",
			zap.String("filename", att.Filename),
			zap.Error(err))
		return nil, failed + 1
	}

	docs := make([][]byte, 0, len(entries))
	for _, entry := range entries {
		docs = append(docs, entry.Data)
	}
	return docs, failed
}

// classify applies the rule tier per candidate, then escalates every
// miss in one batched fallback pass. Collecting all misses before
// chunking keeps the chunk boundaries deterministic regardless of
// processing order.
func (r *Runner) classify(ctx context.Context, candidates []*invoice.Candidate) []invoice.Classified {
	classified := make([]invoice.Classified, len(candidates))
	var pendingIdx []int
	var pendingItems []classify.Item

	for i, c := range candidates {
		category, matched := r.rules.Classify(c.IssuerName, c.LineDescriptions)
		classified[i] = invoice.Classified{Candidate: *c, Category: category}
		if !matched {
			pendingIdx = append(pendingIdx, i)
			pendingItems = append(pendingItems, classify.ItemFromCandidate(c))
		}
	}

	if len(pendingItems) > 0 && r.fallback != nil && r.fallback.Available() {
		categories := r.fallback.ClassifyBatch(ctx, pendingItems)
		for j, idx := range pendingIdx {
			classified[idx].Category = categories[j]
		}
	}

	for i := range classified {
		classified[i].Deductible = classified[i].Category.Deductible()
	}
	return classified
}
