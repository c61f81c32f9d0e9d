package dispatcher

import (
	"testing"

	"github.com/nao1215/futari/pkg/event"
)

// TestLifecycleKind は招待ステータス遷移と通知種類の対応を検証する。
func TestLifecycleKind(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		before   event.InvitationStatus
		after    event.InvitationStatus
		wantKind Kind
		wantOK   bool
	}{
		{
			name:     "sent→acceptedは受諾通知になること",
			before:   event.InvitationStatusSent,
			after:    event.InvitationStatusAccepted,
			wantKind: KindInvitationAccepted,
			wantOK:   true,
		},
		{
			name:     "sent→declinedは辞退通知になること",
			before:   event.InvitationStatusSent,
			after:    event.InvitationStatusDeclined,
			wantKind: KindInvitationDeclined,
			wantOK:   true,
		},
		{
			name:     "accepted→completedは登録完了通知になること",
			before:   event.InvitationStatusAccepted,
			after:    event.InvitationStatusCompleted,
			wantKind: KindPartnerJoined,
			wantOK:   true,
		},
		{
			name:   "同一ステータスへの遷移は通知されないこと",
			before: event.InvitationStatusAccepted,
			after:  event.InvitationStatusAccepted,
			wantOK: false,
		},
		{
			name:   "逆方向の遷移は通知されないこと",
			before: event.InvitationStatusAccepted,
			after:  event.InvitationStatusSent,
			wantOK: false,
		},
		{
			name:   "終端状態からの遷移は通知されないこと",
			before: event.InvitationStatusDeclined,
			after:  event.InvitationStatusAccepted,
			wantOK: false,
		},
		{
			name:   "sentから直接completedへの遷移は通知されないこと",
			before: event.InvitationStatusSent,
			after:  event.InvitationStatusCompleted,
			wantOK: false,
		},
		{
			name:   "未知のステータスを含む遷移は通知されないこと",
			before: event.InvitationStatus("pending"),
			after:  event.InvitationStatusAccepted,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			kind, ok := lifecycleKind(tt.before, tt.after)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if tt.wantOK && kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", kind, tt.wantKind)
			}
		})
	}
}
