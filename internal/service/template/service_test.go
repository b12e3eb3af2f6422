package template

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/internal/repository"
	"github.com/freightlane/notify-api/internal/repository/memory"
	apperrors "github.com/freightlane/notify-api/pkg/errors"
	"github.com/freightlane/notify-api/pkg/logger"
)

func newTestService() (Service, *memory.TemplateRepository) {
	repo := memory.NewTemplateRepository()
	return NewService(repo, logger.Nop()), repo
}

func TestRender(t *testing.T) {
	content := model.StringMap{
		"title": "Load {{loadId}} assigned",
		"body":  "Pickup at {{ pickup }} for {{rate}}, ref {{missing}}.",
	}
	out := Render(content, map[string]interface{}{"loadId": "L-42", "pickup": "Dallas", "rate": 1250.5})

	assert.Equal(t, "Load L-42 assigned", out["title"])
	assert.Equal(t, "Pickup at Dallas for 1250.5, ref .", out["body"])
	// source content is not modified
	assert.Equal(t, "Load {{loadId}} assigned", content["title"])
}

func TestPlaceholders(t *testing.T) {
	names := Placeholders(model.StringMap{"title": "{{b}} {{a}}", "body": "{{a}} {{ c }}"})
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestGetOrCreate_CreatesFallbackOnce(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	first, err := svc.GetOrCreate(ctx, model.KindLoadAssigned, model.ChannelEmail, "")
	require.NoError(t, err)
	assert.True(t, first.IsDefault)
	assert.Equal(t, model.DefaultLocale, first.Locale)
	assert.Equal(t, "{{message}}", first.Content[model.ContentBody])
	assert.NotEmpty(t, first.Content[model.ContentSubject])

	second, err := svc.GetOrCreate(ctx, model.KindLoadAssigned, model.ChannelEmail, "en")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	all, err := repo.List(ctx, model.TemplateFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Create(context.Background(), &CreateRequest{
		Name:             "bad",
		NotificationKind: "nope",
		Channel:          model.ChannelEmail,
		Content:          map[string]string{"body": "x"},
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrBadRequest))

	_, err = svc.Create(context.Background(), &CreateRequest{
		Name:             "no body",
		NotificationKind: model.KindSystemAlert,
		Channel:          model.ChannelEmail,
		Content:          map[string]string{"title": "x"},
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrBadRequest))
}

func TestCreate_AsDefaultReplacesPrevious(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	fallback, err := svc.GetOrCreate(ctx, model.KindPaymentProcessed, model.ChannelEmail, "en")
	require.NoError(t, err)

	custom, err := svc.Create(ctx, &CreateRequest{
		Name:             "payment email",
		NotificationKind: model.KindPaymentProcessed,
		Channel:          model.ChannelEmail,
		Content:          map[string]string{"subject": "Paid", "body": "Invoice {{invoice}} paid"},
		IsDefault:        true,
	})
	require.NoError(t, err)
	assert.True(t, custom.IsDefault)
	assert.Equal(t, model.StringList{"invoice"}, custom.Variables)

	old, err := svc.Get(ctx, fallback.ID)
	require.NoError(t, err)
	assert.False(t, old.IsDefault)

	current, err := svc.GetOrCreate(ctx, model.KindPaymentProcessed, model.ChannelEmail, "en")
	require.NoError(t, err)
	assert.Equal(t, custom.ID, current.ID)
}

func TestDelete_RejectsDefault(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	def, err := svc.GetOrCreate(ctx, model.KindSystemAlert, model.ChannelPush, "en")
	require.NoError(t, err)

	err = svc.Delete(ctx, def.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDefaultTemplateDelete))
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))

	replacement, err := svc.Create(ctx, &CreateRequest{
		Name:             "alert push v2",
		NotificationKind: model.KindSystemAlert,
		Channel:          model.ChannelPush,
		Content:          map[string]string{"title": "Alert", "body": "{{message}}"},
	})
	require.NoError(t, err)
	_, err = svc.SetDefault(ctx, replacement.ID)
	require.NoError(t, err)

	assert.NoError(t, svc.Delete(ctx, def.ID))
}

func TestUpdate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	def, err := svc.GetOrCreate(ctx, model.KindSystemAlert, model.ChannelSMS, "en")
	require.NoError(t, err)

	inactive := false
	_, err = svc.Update(ctx, def.ID, &UpdateRequest{IsActive: &inactive})
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))

	updated, err := svc.Update(ctx, def.ID, &UpdateRequest{Content: map[string]string{"body": "ALERT {{code}}: {{message}}"}})
	require.NoError(t, err)
	assert.Equal(t, model.StringList{"code", "message"}, updated.Variables)

	_, err = svc.Update(ctx, uuid.New(), &UpdateRequest{})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestSetDefault_ConcurrentPromotionsLeaveOneDefault(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	_, err := svc.GetOrCreate(ctx, model.KindDocumentRequired, model.ChannelEmail, "en")
	require.NoError(t, err)

	var ids []uuid.UUID
	for i := 0; i < 10; i++ {
		tpl, err := svc.Create(ctx, &CreateRequest{
			Name:             "doc email",
			NotificationKind: model.KindDocumentRequired,
			Channel:          model.ChannelEmail,
			Content:          map[string]string{"body": "Upload {{document}}"},
		})
		require.NoError(t, err)
		ids = append(ids, tpl.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := svc.SetDefault(ctx, id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	all, err := repo.List(ctx, model.TemplateFilter{NotificationKind: model.KindDocumentRequired})
	require.NoError(t, err)
	defaults := 0
	for _, tpl := range all {
		if tpl.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestSetDefault_RejectsInactiveTemplate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	def, err := svc.GetOrCreate(ctx, model.KindComplianceAlert, model.ChannelEmail, "en")
	require.NoError(t, err)

	retired, err := svc.Create(ctx, &CreateRequest{
		Name:             "compliance email v0",
		NotificationKind: model.KindComplianceAlert,
		Channel:          model.ChannelEmail,
		Content:          map[string]string{"body": "Renew {{document}}"},
	})
	require.NoError(t, err)
	inactive := false
	_, err = svc.Update(ctx, retired.ID, &UpdateRequest{IsActive: &inactive})
	require.NoError(t, err)

	_, err = svc.SetDefault(ctx, retired.ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflict))
	assert.ErrorIs(t, err, repository.ErrInactive)

	current, err := svc.GetOrCreate(ctx, model.KindComplianceAlert, model.ChannelEmail, "en")
	require.NoError(t, err)
	assert.Equal(t, def.ID, current.ID)
	assert.True(t, current.IsActive)
}
