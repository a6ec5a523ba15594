package relay

import (
	"context"
	"fmt"

	"github.com/MrWong99/starcommander/internal/bus"
)

// addListenUser handles add_listen_user {user_id}.
func (r *Relay) addListenUser(ctx context.Context, cmd bus.Command) error {
	id, err := cmd.ID("user_id")
	if err != nil {
		return err
	}
	r.filter.AddUser(id)
	r.w.Emit(ctx, "listen_user_added", map[string]any{"user_id": id})
	return nil
}

// removeListenUser handles remove_listen_user {user_id}. Removing a user
// that is not listed still succeeds.
func (r *Relay) removeListenUser(ctx context.Context, cmd bus.Command) error {
	id, err := cmd.ID("user_id")
	if err != nil {
		return err
	}
	if !r.filter.RemoveUser(id) {
		r.w.Logger().Debug("relay: listen user was not listed", "user_id", id)
	}
	r.w.Emit(ctx, "listen_user_removed", map[string]any{"user_id": id})
	return nil
}

// addListenRole handles add_listen_role {role_id}.
func (r *Relay) addListenRole(ctx context.Context, cmd bus.Command) error {
	id, err := cmd.ID("role_id")
	if err != nil {
		return err
	}
	r.filter.AddRole(id)
	r.w.Emit(ctx, "listen_role_added", map[string]any{"role_id": id})
	return nil
}

// removeListenRole handles remove_listen_role {role_id}.
func (r *Relay) removeListenRole(ctx context.Context, cmd bus.Command) error {
	id, err := cmd.ID("role_id")
	if err != nil {
		return err
	}
	if !r.filter.RemoveRole(id) {
		r.w.Logger().Debug("relay: listen role was not listed", "role_id", id)
	}
	r.w.Emit(ctx, "listen_role_removed", map[string]any{"role_id": id})
	return nil
}

// addAudioTarget handles add_audio_target {target_worker_id}. The target's
// audio channel must already exist, which is the case once the target
// relay worker is ready.
func (r *Relay) addAudioTarget(ctx context.Context, cmd bus.Command) error {
	id, err := cmd.String(cmd.Alias("target_worker_id", "target_bot_id"))
	if err != nil {
		return err
	}
	q, ok, err := r.w.Bus().LookupAudio(ctx, id)
	if err != nil {
		return fmt.Errorf("relay: look up audio channel of %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoAudioChannel, id)
	}
	r.targets.Add(id, q)
	r.w.Logger().Info("relay: audio target added", "target", id)
	r.w.Emit(ctx, "audio_target_added", map[string]any{"target_worker_id": id})
	return nil
}

// removeAudioTarget handles remove_audio_target {target_worker_id}.
func (r *Relay) removeAudioTarget(ctx context.Context, cmd bus.Command) error {
	id, err := cmd.String(cmd.Alias("target_worker_id", "target_bot_id"))
	if err != nil {
		return err
	}
	if r.targets.Remove(id) {
		r.w.Logger().Info("relay: audio target removed", "target", id)
	}
	r.w.Emit(ctx, "audio_target_removed", map[string]any{"target_worker_id": id})
	return nil
}

// clearAudioTargets handles clear_audio_targets.
func (r *Relay) clearAudioTargets(ctx context.Context, _ bus.Command) error {
	n := r.targets.Clear()
	r.w.Logger().Info("relay: audio targets cleared", "count", n)
	r.w.Emit(ctx, "audio_targets_cleared", map[string]any{})
	return nil
}
