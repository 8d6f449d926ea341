package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"classchat/internal/util"
	"classchat/pkg/auth"
	"classchat/pkg/domain"
	"classchat/pkg/store"
)

// CreateAssignment adds a new assignment prompt.
func (a *App) CreateAssignment(ctx context.Context, name, promptText string) (domain.Assignment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Assignment{}, fmt.Errorf("%w: assignment name required", ErrValidation)
	}
	now := time.Now().UTC()
	assignment := domain.Assignment{
		ID:        util.NewID(),
		Name:      name,
		Prompt:    promptText,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateAssignment(assignment); err != nil {
		return domain.Assignment{}, err
	}
	return assignment, nil
}

// UpdateAssignmentPrompt replaces an assignment's prompt text. Running
// conversations keep their snapshot; only new conversations see the change.
func (a *App) UpdateAssignmentPrompt(ctx context.Context, id, promptText string) error {
	if _, ok, err := a.store.GetAssignment(id); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: assignment %s", ErrNotFound, id)
	}
	return a.store.UpdateAssignmentPrompt(id, promptText)
}

// ActivateAssignment makes the given assignment the single active one.
func (a *App) ActivateAssignment(ctx context.Context, id string) error {
	if _, ok, err := a.store.GetAssignment(id); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: assignment %s", ErrNotFound, id)
	}
	return a.store.SetActiveAssignment(id)
}

// ListAssignments returns all assignments.
func (a *App) ListAssignments(ctx context.Context) ([]domain.Assignment, error) {
	return a.store.ListAssignments()
}

// BasePrompt returns the course-wide system prompt.
func (a *App) BasePrompt(ctx context.Context) (string, error) {
	v, _, err := a.store.GetSetting(SettingBasePrompt)
	return v, err
}

// SetBasePrompt replaces the course-wide system prompt.
func (a *App) SetBasePrompt(ctx context.Context, promptText string) error {
	return a.store.SetSetting(SettingBasePrompt, promptText)
}

// ListConversationsAdmin lists conversation summaries across all users.
func (a *App) ListConversationsAdmin(ctx context.Context, filter store.ConversationFilter) ([]domain.ConversationSummary, error) {
	return a.store.ListConversationsAdmin(filter)
}

// DeleteConversation removes a conversation with its messages and attachment
// rows, then best-effort deletes the external blobs. Orphaned blobs are left
// for SweepOrphans.
func (a *App) DeleteConversation(ctx context.Context, conversationID string) error {
	if _, ok, err := a.store.GetConversation(conversationID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}
	keys, err := a.store.DeleteConversation(conversationID)
	if err != nil {
		return err
	}
	a.deleteBlobs(ctx, keys)
	return nil
}

// SweepOrphans deletes blobs that no attachment row references anymore. It
// reconciles the best-effort deletes that failed during normal operation.
func (a *App) SweepOrphans(ctx context.Context) (int, error) {
	if a.blobs == nil {
		return 0, nil
	}
	stored, err := a.blobs.List(ctx)
	if err != nil {
		return 0, err
	}
	referenced, err := a.store.ListExternalKeys()
	if err != nil {
		return 0, err
	}
	refSet := make(map[string]bool, len(referenced))
	for _, k := range referenced {
		refSet[k] = true
	}
	removed := 0
	for _, key := range stored {
		if refSet[key] {
			continue
		}
		if err := a.blobs.Delete(ctx, key); err != nil {
			a.logger.Warn("sweep orphan blob", "key", key, "error", err)
			continue
		}
		removed++
	}
	a.logger.Info("orphan sweep complete", "scanned", len(stored), "removed", removed)
	return removed, nil
}

// CreateUser provisions a login. Only admins reach this through the HTTP
// surface.
func (a *App) CreateUser(ctx context.Context, id, password string, role domain.UserRole) (domain.User, error) {
	id = strings.TrimSpace(id)
	if id == "" || password == "" {
		return domain.User{}, fmt.Errorf("%w: user id and password required", ErrValidation)
	}
	if role != domain.RoleAdmin && role != domain.RoleStudent {
		return domain.User{}, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if _, ok, err := a.store.GetUser(id); err != nil {
		return domain.User{}, err
	} else if ok {
		return domain.User{}, fmt.Errorf("%w: user %s already exists", ErrValidation, id)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, err
	}
	user := domain.User{
		ID:           id,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// Bootstrap prepares an empty deployment: it provisions the first admin when
// credentials are configured and no users exist, and creates a default active
// assignment when there is none.
func (a *App) Bootstrap(ctx context.Context, adminUser, adminPassword string) error {
	count, err := a.store.UserCount()
	if err != nil {
		return err
	}
	if count == 0 && adminUser != "" && adminPassword != "" {
		if _, err := a.CreateUser(ctx, adminUser, adminPassword, domain.RoleAdmin); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
		a.logger.Info("provisioned first admin", "user", adminUser)
	}

	assignments, err := a.store.ListAssignments()
	if err != nil {
		return err
	}
	if len(assignments) == 0 {
		assignment, err := a.CreateAssignment(ctx, defaultAssignment, "")
		if err != nil {
			return fmt.Errorf("bootstrap assignment: %w", err)
		}
		if err := a.store.SetActiveAssignment(assignment.ID); err != nil {
			return fmt.Errorf("bootstrap assignment: %w", err)
		}
		a.logger.Info("created default assignment", "id", assignment.ID)
	}
	return nil
}
