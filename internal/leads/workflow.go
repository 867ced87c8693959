package leads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	temporalworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"example.com/planwidget/internal/capture"
)

const (
	DefaultTaskQueue          = "planwidget-leads"
	leadWorkflowName          = "leads.deliver"
	forwardCRMActivityName    = "leads.forward_crm"
	notifyBuilderActivityName = "leads.notify_builder"
)

// DeliveryResult describes one delivery channel's outcome.
type DeliveryResult struct {
	Delivered bool   `json:"delivered"`
	Skipped   bool   `json:"skipped"`
	Error     string `json:"error,omitempty"`
}

// LeadWorkflowResult summarizes a lead delivery run.
type LeadWorkflowResult struct {
	ContactID   string         `json:"contact_id"`
	CRM         DeliveryResult `json:"crm"`
	Notify      DeliveryResult `json:"notify"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Activities hosts the delivery side effects. Either dependency may be nil.
type Activities struct {
	crm      *CRMClient
	notifier *Notifier
	logger   *slog.Logger
}

func NewActivities(crm *CRMClient, notifier *Notifier, logger *slog.Logger) *Activities {
	return &Activities{crm: crm, notifier: notifier, logger: logger}
}

// ForwardToCRMActivity posts the lead to the CRM webhook. Rejections the CRM
// will never accept are returned as non-retryable.
func (a *Activities) ForwardToCRMActivity(ctx context.Context, lead capture.Lead) (DeliveryResult, error) {
	if !a.crm.Configured() {
		return DeliveryResult{Skipped: true}, nil
	}
	if err := a.crm.PostLead(ctx, lead); err != nil {
		a.logger.Error("crm forward failed", "contact_id", lead.ContactID, "builder_slug", lead.BuilderSlug, "error", err)
		var se *StatusError
		if errors.As(err, &se) && se.Permanent() {
			return DeliveryResult{}, temporal.NewNonRetryableApplicationError(se.Error(), "CRMRejected", err)
		}
		return DeliveryResult{}, err
	}
	a.logger.Info("lead forwarded to crm", "contact_id", lead.ContactID, "builder_slug", lead.BuilderSlug)
	return DeliveryResult{Delivered: true}, nil
}

// NotifyBuilderActivity emails the builder's sales team.
func (a *Activities) NotifyBuilderActivity(_ context.Context, lead capture.Lead) (DeliveryResult, error) {
	if a.notifier == nil {
		return DeliveryResult{Skipped: true}, nil
	}
	sent, err := a.notifier.Notify(lead)
	if err != nil {
		a.logger.Error("builder notification failed", "contact_id", lead.ContactID, "builder_slug", lead.BuilderSlug, "error", err)
		return DeliveryResult{}, err
	}
	if !sent {
		return DeliveryResult{Skipped: true}, nil
	}
	a.logger.Info("builder notified", "contact_id", lead.ContactID, "builder_slug", lead.BuilderSlug)
	return DeliveryResult{Delivered: true}, nil
}

// LeadWorkflow delivers a captured lead to the CRM and the builder's inbox.
// Channels are independent; a channel that exhausts its retries is recorded
// in the result and does not fail the workflow.
func LeadWorkflow(ctx workflow.Context, lead capture.Lead) (LeadWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	if lead.ContactID == "" {
		return LeadWorkflowResult{}, errors.New("contact_id required")
	}
	options := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        8,
			InitialInterval:        2 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        5 * time.Minute,
			NonRetryableErrorTypes: []string{"CRMRejected"},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, options)

	result := LeadWorkflowResult{ContactID: lead.ContactID, StartedAt: workflow.Now(ctx)}
	logger.Info("lead workflow started", "contact_id", lead.ContactID, "builder_slug", lead.BuilderSlug)

	crm := workflow.ExecuteActivity(ctx, forwardCRMActivityName, lead)
	notify := workflow.ExecuteActivity(ctx, notifyBuilderActivityName, lead)

	if err := crm.Get(ctx, &result.CRM); err != nil {
		logger.Error("crm activity failed", "contact_id", lead.ContactID, "error", err)
		result.CRM = DeliveryResult{Error: err.Error()}
	}
	if err := notify.Get(ctx, &result.Notify); err != nil {
		logger.Error("notify activity failed", "contact_id", lead.ContactID, "error", err)
		result.Notify = DeliveryResult{Error: err.Error()}
	}

	result.CompletedAt = workflow.Now(ctx)
	logger.Info("lead workflow finished", "contact_id", lead.ContactID, "crm_delivered", result.CRM.Delivered, "notify_delivered", result.Notify.Delivered)
	return result, nil
}

// RegisterWorker wires up the Temporal worker consuming the lead task queue.
func RegisterWorker(c client.Client, taskQueue string, activities *Activities) temporalworker.Worker {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	w := temporalworker.New(c, taskQueue, temporalworker.Options{})
	w.RegisterWorkflowWithOptions(LeadWorkflow, workflow.RegisterOptions{Name: leadWorkflowName})
	w.RegisterActivityWithOptions(activities.ForwardToCRMActivity, activity.RegisterOptions{Name: forwardCRMActivityName})
	w.RegisterActivityWithOptions(activities.NotifyBuilderActivity, activity.RegisterOptions{Name: notifyBuilderActivityName})
	return w
}

// TemporalForwarder dispatches each captured lead to LeadWorkflow without
// waiting for delivery.
type TemporalForwarder struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

func NewTemporalForwarder(c client.Client, taskQueue string, logger *slog.Logger) *TemporalForwarder {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &TemporalForwarder{client: c, taskQueue: taskQueue, logger: logger.With("component", "leads.forwarder")}
}

func (f *TemporalForwarder) ForwardLead(ctx context.Context, lead capture.Lead) error {
	options := client.StartWorkflowOptions{
		ID:                       "lead-" + lead.ContactID,
		TaskQueue:                f.taskQueue,
		WorkflowIDReusePolicy:    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
		WorkflowExecutionTimeout: 24 * time.Hour,
	}
	we, err := f.client.ExecuteWorkflow(ctx, options, leadWorkflowName, lead)
	if err != nil {
		return fmt.Errorf("start lead workflow: %w", err)
	}
	f.logger.Info("lead workflow dispatched", "workflow_id", we.GetID(), "run_id", we.GetRunID(), "contact_id", lead.ContactID)
	return nil
}

// DirectForwarder runs both deliveries in-process, once, without retries.
// Deliveries run in the background so a slow CRM or mail provider never holds
// up the capture request; Wait blocks until the outstanding ones finish.
type DirectForwarder struct {
	activities *Activities
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewDirectForwarder(activities *Activities, logger *slog.Logger) *DirectForwarder {
	return &DirectForwarder{activities: activities, logger: logger}
}

// ForwardLead schedules delivery and returns immediately. Delivery failures
// are logged.
func (f *DirectForwarder) ForwardLead(ctx context.Context, lead capture.Lead) error {
	ctx = context.WithoutCancel(ctx)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		_, crmErr := f.activities.ForwardToCRMActivity(ctx, lead)
		_, notifyErr := f.activities.NotifyBuilderActivity(ctx, lead)
		if err := errors.Join(crmErr, notifyErr); err != nil {
			f.logger.Warn("lead delivery incomplete", "contact_id", lead.ContactID, "builder_slug", lead.BuilderSlug, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every scheduled delivery has finished or ctx is done.
func (f *DirectForwarder) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for lead deliveries: %w", ctx.Err())
	}
}
