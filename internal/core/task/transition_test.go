package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition_Legal(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("mark done", func(t *testing.T) {
		res, err := Transition(Task{ID: "t1", Status: StatusPending}, Change{Event: EventMarkDone, At: at})
		require.NoError(t, err)

		assert.Equal(t, StatusPending, res.From)
		assert.Equal(t, StatusDone, res.To)
		assert.Equal(t, StatusDone, res.Task.Status)
		require.NotNil(t, res.Task.DoneAt)
		assert.Equal(t, at, *res.Task.DoneAt)
		assert.Equal(t, at, res.Fields[FieldDoneAt])
		assert.True(t, res.HasEffect(EffectCompleteAlarm))
		assert.True(t, res.HasEffect(EffectNotifySupervisor))
	})

	t.Run("confirm", func(t *testing.T) {
		res, err := Transition(Task{ID: "t1", Status: StatusDone}, Change{Event: EventSupervisorConfirm, At: at, ActorID: "sup1"})
		require.NoError(t, err)

		assert.Equal(t, StatusConfirmed, res.To)
		assert.Equal(t, "sup1", res.Task.ConfirmedBy)
		assert.Equal(t, "sup1", res.Fields[FieldConfirmedBy])
		assert.True(t, res.HasEffect(EffectNotifyOwnerConfirmed))
		assert.True(t, res.HasEffect(EffectStopOwnerAlarm))
	})

	t.Run("reject clears doneAt", func(t *testing.T) {
		done := at.Add(-time.Hour)
		res, err := Transition(
			Task{ID: "t1", Status: StatusDone, DoneAt: &done},
			Change{Event: EventSupervisorReject, At: at, ActorID: "sup1", Message: "redo it"},
		)
		require.NoError(t, err)

		assert.Equal(t, StatusPending, res.To)
		assert.Nil(t, res.Task.DoneAt)
		assert.Equal(t, "redo it", res.Task.RejectionMessage)

		v, ok := res.Fields[FieldDoneAt]
		assert.True(t, ok, "doneAt must be present so the store clears it")
		assert.Nil(t, v)
		assert.True(t, res.HasEffect(EffectNotifyOwnerRejected))
		assert.True(t, res.HasEffect(EffectRearmAlarm))
		assert.False(t, res.HasEffect(EffectCompleteAlarm))
	})
}

func TestTransition_Illegal(t *testing.T) {
	tests := []struct {
		from Status
		ev   Event
	}{
		{StatusPending, EventSupervisorConfirm},
		{StatusPending, EventSupervisorReject},
		{StatusDone, EventMarkDone},
		{StatusConfirmed, EventMarkDone},
		{StatusConfirmed, EventSupervisorConfirm},
		{StatusConfirmed, EventSupervisorReject},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			_, err := Transition(Task{ID: "t1", Status: tt.from}, Change{Event: tt.ev})
			require.ErrorIs(t, err, ErrIllegalTransition)

			var illegal *IllegalTransitionError
			require.ErrorAs(t, err, &illegal)
			assert.Equal(t, tt.from, illegal.From)
			assert.Equal(t, tt.ev, illegal.Event)
			assert.False(t, CanTransition(tt.from, tt.ev))
		})
	}
}

func TestTransition_DoesNotMutateInput(t *testing.T) {
	in := Task{ID: "t1", Status: StatusPending}
	_, err := Transition(in, Change{Event: EventMarkDone, At: time.Now()})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, in.Status)
	assert.Nil(t, in.DoneAt)
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusConfirmed.IsTerminal())
	assert.False(t, StatusDone.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, Status("archived").IsValid())
}
