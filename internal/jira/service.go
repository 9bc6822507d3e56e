package jira

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"opsync-backend/internal/integration"
	"opsync-backend/internal/storage"
)

const PageSize = 100

type Searcher interface {
	Search(ctx context.Context, jql string, maxResults int, fields []string) ([]Issue, error)
	Myself(ctx context.Context) (string, error)
}

type Store interface {
	UpsertIncident(ctx context.Context, inc storage.Incident) error
	UpsertTask(ctx context.Context, task storage.Task) error
	UpsertUptimeRequest(ctx context.Context, req storage.UptimeRequest) error
}

// FieldMap names the custom fields that carry environment and uptime window
// data. They differ per Jira site.
type FieldMap struct {
	Environment    string `yaml:"environment"`
	WindowStart    string `yaml:"window_start"`
	WindowEnd      string `yaml:"window_end"`
	RequestedHours string `yaml:"requested_hours"`
	DeliveredHours string `yaml:"delivered_hours"`
}

func DefaultFieldMap() FieldMap {
	return FieldMap{
		Environment:    "customfield_10040",
		WindowStart:    "customfield_10041",
		WindowEnd:      "customfield_10042",
		RequestedHours: "customfield_10043",
		DeliveredHours: "customfield_10044",
	}
}

type Service struct {
	Client     Searcher
	Store      Store
	ProjectKey string
	Fields     FieldMap
	Logger     *slog.Logger
	Now        func() time.Time
}

func NewService(client Searcher, store Store, projectKey string, fields FieldMap, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Client:     client,
		Store:      store,
		ProjectKey: projectKey,
		Fields:     fields,
		Logger:     logger,
		Now:        time.Now,
	}
}

func (s *Service) SyncIncidents(ctx context.Context) (int, error) {
	fields := []string{"summary", "description", "priority", "status", "assignee", "reporter", "created", "resolutiondate", s.Fields.Environment}
	return s.sync(ctx, "incident", s.jql("issuetype = Incident"), fields, func(issue Issue) error {
		return s.Store.UpsertIncident(ctx, s.toIncident(issue))
	})
}

func (s *Service) SyncTasks(ctx context.Context) (int, error) {
	fields := []string{"summary", "description", "priority", "status", "assignee", "duedate", "labels", "created"}
	return s.sync(ctx, "task", s.jql("issuetype in (Task, Story, Bug)"), fields, func(issue Issue) error {
		return s.Store.UpsertTask(ctx, s.toTask(issue))
	})
}

func (s *Service) SyncUptimeRequests(ctx context.Context) (int, error) {
	fields := []string{"summary", "status", "reporter", s.Fields.Environment,
		s.Fields.WindowStart, s.Fields.WindowEnd, s.Fields.RequestedHours, s.Fields.DeliveredHours}
	return s.sync(ctx, "uptime_request", s.jql(`issuetype = "Uptime Request"`), fields, func(issue Issue) error {
		return s.Store.UpsertUptimeRequest(ctx, s.toUptimeRequest(issue))
	})
}

// SyncAll runs the three issue syncs in order and returns the combined count.
func (s *Service) SyncAll(ctx context.Context) (int, error) {
	total := 0
	for _, run := range []func(context.Context) (int, error){s.SyncIncidents, s.SyncTasks, s.SyncUptimeRequests} {
		n, err := run(ctx)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Service) TestConnection(ctx context.Context) bool {
	if _, err := s.Client.Myself(ctx); err != nil {
		s.Logger.Warn("jira connection test failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

func (s *Service) sync(ctx context.Context, kind, jql string, fields []string, upsert func(Issue) error) (int, error) {
	issues, err := s.Client.Search(ctx, jql, PageSize, fields)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, issue := range issues {
		if strings.TrimSpace(issue.Key) == "" {
			shapeErr := &integration.DataShapeError{Kind: kind, ID: issue.ID, Field: "key"}
			s.Logger.Warn("skipping issue", slog.String("error", shapeErr.Error()))
			continue
		}
		if issue.Fields == nil {
			issue.Fields = map[string]any{}
		}
		if err := upsert(issue); err != nil {
			return count, fmt.Errorf("%s %s: %w", kind, issue.Key, err)
		}
		count++
	}
	s.Logger.Info("jira sync finished", slog.String("kind", kind), slog.Int("records", count))
	return count, nil
}

func (s *Service) jql(clause string) string {
	return fmt.Sprintf("project = %s AND %s ORDER BY created DESC", s.ProjectKey, clause)
}

func (s *Service) toIncident(issue Issue) storage.Incident {
	f := issue.Fields
	detected, ok := timeField(f, "created")
	if !ok {
		detected = s.now()
	}
	return storage.Incident{
		ExternalID:  issue.Key,
		Title:       textOr(f, "summary", issue.Key),
		Description: description(f),
		Severity:    PriorityTable.Map(text(f, "priority")),
		Status:      IncidentStatusTable.Map(text(f, "status")),
		Assignee:    textOr(f, "assignee", storage.Unknown),
		Reporter:    textOr(f, "reporter", storage.Unknown),
		Environment: textOr(f, s.Fields.Environment, storage.Unknown),
		DetectedAt:  detected,
		ResolvedAt:  optionalTime(f, "resolutiondate"),
	}
}

func (s *Service) toTask(issue Issue) storage.Task {
	f := issue.Fields
	created, ok := timeField(f, "created")
	if !ok {
		created = s.now()
	}
	return storage.Task{
		ExternalID:  issue.Key,
		Title:       textOr(f, "summary", issue.Key),
		Description: description(f),
		Status:      TaskStatusTable.Map(text(f, "status")),
		Priority:    PriorityTable.Map(text(f, "priority")),
		Assignee:    textOr(f, "assignee", storage.Unknown),
		DueDate:     optionalTime(f, "duedate"),
		Labels:      stringList(f, "labels"),
		CreatedAt:   created,
	}
}

// toUptimeRequest stores the window as given; sla_met is fixed here and not
// recomputed later.
func (s *Service) toUptimeRequest(issue Issue) storage.UptimeRequest {
	f := issue.Fields
	now := s.now()
	start, ok := timeField(f, s.Fields.WindowStart)
	if !ok {
		start = now
	}
	end, ok := timeField(f, s.Fields.WindowEnd)
	if !ok {
		end = now
	}
	requested := number(f, s.Fields.RequestedHours)
	delivered := number(f, s.Fields.DeliveredHours)
	return storage.UptimeRequest{
		ExternalID:     issue.Key,
		Title:          textOr(f, "summary", issue.Key),
		Environment:    textOr(f, s.Fields.Environment, storage.Unknown),
		Requester:      textOr(f, "reporter", storage.Unknown),
		Status:         textOr(f, "status", storage.Unknown),
		WindowStart:    start,
		WindowEnd:      end,
		RequestedHours: requested,
		DeliveredHours: delivered,
		SLAMet:         delivered >= requested,
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
