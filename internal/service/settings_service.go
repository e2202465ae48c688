package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"unicode/utf8"

	"github.com/noah-isme/libsync-api/internal/dto"
	"github.com/noah-isme/libsync-api/internal/models"
	"github.com/noah-isme/libsync-api/internal/repository"
	appErrors "github.com/noah-isme/libsync-api/pkg/errors"
)

// SettingsService reads and writes library settings under the library version clock.
type SettingsService struct {
	listing *ListingService
	writes  *WriteService
}

// NewSettingsService constructs a settings service.
func NewSettingsService(listing *ListingService, writes *WriteService) *SettingsService {
	return &SettingsService{listing: listing, writes: writes}
}

// List returns settings changed after since, keyed by name.
func (s *SettingsService) List(ctx context.Context, scope models.RequestScope, since int64, ifModifiedSince *int64) (map[string]dto.SettingView, int64, error) {
	tx, version, err := s.listing.snapshot(ctx, scope)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()
	if ifModifiedSince != nil && version <= *ifModifiedSince {
		return nil, version, appErrors.ErrNotModified
	}
	settings, err := tx.ListSettings(ctx, since)
	if err != nil {
		return nil, version, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list settings")
	}
	out := make(map[string]dto.SettingView, len(settings))
	for _, setting := range settings {
		out[setting.Name] = dto.SettingView{Value: setting.Value, Version: setting.Version}
	}
	return out, version, nil
}

// Get returns one setting.
func (s *SettingsService) Get(ctx context.Context, scope models.RequestScope, name string) (dto.SettingView, int64, error) {
	tx, version, err := s.listing.snapshot(ctx, scope)
	if err != nil {
		return dto.SettingView{}, 0, err
	}
	defer tx.Rollback()
	setting, err := tx.GetSetting(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return dto.SettingView{}, version, appErrors.Clone(appErrors.ErrNotFound, "Setting not found")
		}
		return dto.SettingView{}, version, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load setting")
	}
	return dto.SettingView{Value: setting.Value, Version: setting.Version}, version, nil
}

// WriteMany applies an object of name -> {value, version}. Every setting is validated before any is stored.
func (s *SettingsService) WriteMany(ctx context.Context, scope models.RequestScope, body []byte, precondition *int64) (int64, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		return 0, validationError("Uploaded data must be a JSON object")
	}
	writes := make(map[string]dto.SettingWrite, len(payload))
	for name, raw := range payload {
		write, err := decodeSettingWrite(scope.Library, name, raw)
		if err != nil {
			return 0, err
		}
		writes[name] = write
	}

	w, release, err := s.writes.begin(ctx, scope)
	if err != nil {
		return 0, err
	}
	defer release()
	if err := checkLibraryPrecondition(precondition, w.clock.Current()); err != nil {
		return w.clock.Current(), err
	}

	names := make([]string, 0, len(writes))
	for name := range writes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		write := writes[name]
		if err := s.apply(w, name, write, write.Version, false); err != nil {
			return w.clock.Current(), err
		}
	}
	return w.commit()
}

// Put writes one setting. The header takes precedence over a version in the body.
func (s *SettingsService) Put(ctx context.Context, scope models.RequestScope, name string, body []byte, precondition *int64) (int64, error) {
	write, err := decodeSettingWrite(scope.Library, name, body)
	if err != nil {
		return 0, err
	}
	proof := precondition
	if proof == nil {
		proof = write.Version
	}
	w, release, err := s.writes.begin(ctx, scope)
	if err != nil {
		return 0, err
	}
	defer release()
	if err := s.apply(w, name, write, proof, true); err != nil {
		return w.clock.Current(), err
	}
	return w.commit()
}

// Delete removes one setting and records it in the deletion log.
func (s *SettingsService) Delete(ctx context.Context, scope models.RequestScope, name string, precondition *int64) (int64, error) {
	if precondition == nil {
		return 0, appErrors.Clone(appErrors.ErrPreconditionRequired, "If-Unmodified-Since-Version not provided")
	}
	w, release, err := s.writes.begin(ctx, scope)
	if err != nil {
		return 0, err
	}
	defer release()
	existing, err := loadSetting(w, name)
	if err != nil {
		return w.clock.Current(), err
	}
	if existing == nil {
		return w.clock.Current(), appErrors.Clone(appErrors.ErrNotFound, "Setting not found")
	}
	if *precondition != existing.Version {
		return w.clock.Current(), appErrors.Clonef(appErrors.ErrPreconditionFailed,
			"Setting has been modified since specified version (expected %d, found %d)", *precondition, existing.Version)
	}
	if err := w.tx.DeleteSetting(ctx, name, w.clock.Next(), true); err != nil {
		return w.clock.Current(), appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete setting")
	}
	w.clock.Touch()
	return w.commit()
}

func (s *SettingsService) apply(w *writeSession, name string, write dto.SettingWrite, proof *int64, requireProof bool) error {
	existing, err := loadSetting(w, name)
	if err != nil {
		return err
	}
	if proof != nil {
		if existing == nil && *proof != 0 {
			return appErrors.Clonef(appErrors.ErrNotFound, "Setting '%s' doesn't exist (expected version %d; use 0 instead)", name, *proof)
		}
		if existing != nil && *proof != existing.Version {
			return appErrors.Clonef(appErrors.ErrPreconditionFailed,
				"Setting '%s' has been modified since specified version (expected %d, found %d)", name, *proof, existing.Version)
		}
	} else if requireProof && existing != nil {
		return appErrors.Clone(appErrors.ErrPreconditionRequired, "If-Unmodified-Since-Version not provided")
	}
	if existing != nil && jsonEqual(existing.Value, write.Value) {
		return nil
	}
	setting := &models.Setting{Name: name, Value: write.Value, Version: w.clock.Next()}
	if err := w.tx.PutSetting(w.ctx, setting); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save setting")
	}
	w.clock.Touch()
	return nil
}

func loadSetting(w *writeSession, name string) (*models.Setting, error) {
	setting, err := w.tx.GetSetting(w.ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load setting")
	}
	return setting, nil
}

func decodeSettingWrite(lib models.Library, name string, raw []byte) (dto.SettingWrite, error) {
	var write dto.SettingWrite
	if !models.ValidSettingName(name, lib) {
		return write, validationError("Invalid setting '%s'", name)
	}
	if err := json.Unmarshal(raw, &write); err != nil {
		return write, validationError("Setting '%s' must be an object with a 'value' property", name)
	}
	trimmed := bytes.TrimSpace(write.Value)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return write, validationError("'value' not provided for setting '%s'", name)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return write, validationError("Invalid value for setting '%s'", name)
	}
	write.Value = compact.Bytes()
	if utf8.RuneCount(write.Value) > models.MaxSettingValueLength {
		return write, tooLargeError("'value' cannot be longer than %d characters", models.MaxSettingValueLength)
	}
	if name == models.SettingTagColors && write.Value[0] != '[' {
		return write, validationError("'value' for setting 'tagColors' must be an array")
	}
	return write, nil
}

func jsonEqual(a, b json.RawMessage) bool {
	var left, right bytes.Buffer
	if json.Compact(&left, a) != nil || json.Compact(&right, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(left.Bytes(), right.Bytes())
}
