package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type SessionKind string

const (
	KindVoiceCall      SessionKind = "voice_call"
	KindVideoCall      SessionKind = "video_call"
	KindGroupVoiceCall SessionKind = "group_voice_call"
	KindGroupVideoCall SessionKind = "group_video_call"
	KindChat           SessionKind = "chat"
	KindGroupChat      SessionKind = "group_chat"
	KindGame           SessionKind = "game"
	KindLecture        SessionKind = "lecture"
)

func (k SessionKind) Valid() bool {
	switch k {
	case KindVoiceCall, KindVideoCall, KindGroupVoiceCall, KindGroupVideoCall,
		KindChat, KindGroupChat, KindGame, KindLecture:
		return true
	}
	return false
}

func (k SessionKind) IsCall() bool {
	switch k {
	case KindVoiceCall, KindVideoCall, KindGroupVoiceCall, KindGroupVideoCall:
		return true
	}
	return false
}

func (k SessionKind) IsChat() bool {
	return k == KindChat || k == KindGroupChat
}

func (k SessionKind) IsGroup() bool {
	switch k {
	case KindGroupVoiceCall, KindGroupVideoCall, KindGroupChat:
		return true
	}
	return false
}

// IsCommunication reports whether the kind counts toward the matchmaking
// busy-exclusion rule: a user already in one of these may not be matched again.
func (k SessionKind) IsCommunication() bool {
	return k.IsCall() || k.IsChat()
}

// Resumable kinds support the active <-> paused transition.
func (k SessionKind) Resumable() bool {
	return k == KindGame || k == KindLecture
}

// StartsImmediately reports whether the session is active from creation
// (solo kinds) rather than activating on the second join.
func (k SessionKind) StartsImmediately() bool {
	return k == KindGame || k == KindLecture
}

type SessionStatus string

const (
	StatusScheduled SessionStatus = "scheduled"
	StatusActive    SessionStatus = "active"
	StatusPaused    SessionStatus = "paused"
	StatusCompleted SessionStatus = "completed"
	StatusCancelled SessionStatus = "cancelled"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusActive, StatusPaused, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition is the lifecycle table. Transitions are monotonic except
// active <-> paused; terminal states accept nothing.
func CanTransition(from, to SessionStatus) bool {
	switch from {
	case StatusScheduled:
		return to == StatusActive || to == StatusCompleted || to == StatusCancelled
	case StatusActive:
		return to == StatusPaused || to == StatusCompleted || to == StatusCancelled
	case StatusPaused:
		return to == StatusActive || to == StatusCompleted || to == StatusCancelled
	}
	return false
}

type ParticipantRole string

const (
	RoleHost        ParticipantRole = "host"
	RoleParticipant ParticipantRole = "participant"
	RoleViewer      ParticipantRole = "viewer"
	RolePlayer      ParticipantRole = "player"
)

func (r ParticipantRole) Valid() bool {
	switch r {
	case RoleHost, RoleParticipant, RoleViewer, RolePlayer:
		return true
	}
	return false
}

// DefaultRole is the role a joiner gets when no hint is supplied.
func DefaultRole(k SessionKind) ParticipantRole {
	switch k {
	case KindGame:
		return RolePlayer
	case KindLecture:
		return RoleViewer
	default:
		return RoleParticipant
	}
}

// CallParticipantState carries the transient flags of a participant in a call
// session. Ignored for non-call kinds.
type CallParticipantState struct {
	MicEnabled    bool    `bson:"mic_enabled" json:"mic_enabled"`
	CameraEnabled bool    `bson:"camera_enabled" json:"camera_enabled"`
	IsSpeaking    bool    `bson:"is_speaking" json:"is_speaking"`
	AudioLevel    float64 `bson:"audio_level" json:"audio_level"`
	ScreenSharing bool    `bson:"screen_sharing" json:"screen_sharing"`
}

type Participant struct {
	UserID         string               `bson:"user_id" json:"user_id"` // uuid from auth
	Role           ParticipantRole      `bson:"role" json:"role"`
	IsActive       bool                 `bson:"is_active" json:"is_active"`
	JoinedAt       time.Time            `bson:"joined_at,omitempty" json:"joined_at,omitempty"`
	LeftAt         *time.Time           `bson:"left_at,omitempty" json:"left_at,omitempty"`
	ElapsedSeconds int64                `bson:"elapsed_seconds" json:"elapsed_seconds"`
	CallState      CallParticipantState `bson:"call_state" json:"call_state"`
}

type CallSettings struct {
	ScreenShareEnabled bool `bson:"screen_share_enabled" json:"screen_share_enabled"`
	RecordingEnabled   bool `bson:"recording_enabled" json:"recording_enabled"`
	ChatEnabled        bool `bson:"chat_enabled" json:"chat_enabled"`
	MuteOnEntry        bool `bson:"mute_on_entry" json:"mute_on_entry"`
}

type CallDetail struct {
	CallType        string       `bson:"call_type" json:"call_type"` // voice|video
	IsGroupCall     bool         `bson:"is_group_call" json:"is_group_call"`
	MaxParticipants int          `bson:"max_participants" json:"max_participants"`
	Settings        CallSettings `bson:"settings" json:"settings"`
}

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageSystem MessageType = "system"
)

func (t MessageType) Valid() bool {
	return t == MessageText || t == MessageImage || t == MessageSystem
}

type Message struct {
	MessageID string      `bson:"message_id" json:"message_id"` // uuid v4
	SenderID  string      `bson:"sender_id" json:"sender_id"`
	Body      string      `bson:"body" json:"body"`
	Type      MessageType `bson:"type" json:"type"`
	Timestamp time.Time   `bson:"timestamp" json:"timestamp"`
	Edited    bool        `bson:"edited" json:"edited"`
}

// ChatDetail is the append-only chat log. TotalMessages and LastMessageAt are
// maintained by the same mutation that appends a message; they never drift
// from the log itself.
type ChatDetail struct {
	Messages      []Message  `bson:"messages" json:"messages"`
	TotalMessages int64      `bson:"total_messages" json:"total_messages"`
	LastMessageAt *time.Time `bson:"last_message_at,omitempty" json:"last_message_at,omitempty"`
}

// GroupDetail embeds the chat log: a group chat's payload is its group
// metadata plus the same log shape as a 1:1 chat.
type GroupDetail struct {
	JoinCode        string `bson:"join_code" json:"join_code"`
	Level           string `bson:"level,omitempty" json:"level,omitempty"`
	MaxParticipants int    `bson:"max_participants" json:"max_participants"`
	ChatDetail      `bson:",inline"`
}

type GameStatus string

const (
	GameInProgress GameStatus = "in_progress"
	GamePaused     GameStatus = "paused"
	GameCompleted  GameStatus = "completed"
)

type GameQuestion struct {
	Prompt       string   `bson:"prompt" json:"prompt"`
	Options      []string `bson:"options" json:"options"`
	CorrectIndex int      `bson:"correct_index" json:"-"`
	Points       int      `bson:"points" json:"points"`
}

type GameAnswer struct {
	QuestionIndex int       `bson:"question_index" json:"question_index"`
	Answer        string    `bson:"answer" json:"answer"`
	IsCorrect     bool      `bson:"is_correct" json:"is_correct"`
	AnsweredAt    time.Time `bson:"answered_at" json:"answered_at"`
}

type GameDetail struct {
	Questions            []GameQuestion `bson:"questions" json:"questions"`
	CurrentQuestionIndex int            `bson:"current_question_index" json:"current_question_index"`
	TimeLeftSeconds      int            `bson:"time_left_seconds" json:"time_left_seconds"`
	Answers              []GameAnswer   `bson:"answers" json:"answers"`
	Score                int            `bson:"score" json:"score"`
	Status               GameStatus     `bson:"status" json:"status"`
}

// LectureCompletionThreshold marks a lecture watched once the furthest
// position reaches this share of the total duration.
const LectureCompletionThreshold = 0.9

type Bookmark struct {
	PositionSeconds int64     `bson:"position_seconds" json:"position_seconds"`
	Label           string    `bson:"label,omitempty" json:"label,omitempty"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
}

// LectureDetail tracks playback of a catalog lecture. WatchTimeSeconds is the
// furthest position reached, not cumulative play time: seeking backward never
// decreases it.
type LectureDetail struct {
	LectureID            string     `bson:"lecture_id" json:"lecture_id"` // catalog ref, opaque here
	TotalDurationSeconds int64      `bson:"total_duration_seconds" json:"total_duration_seconds"`
	WatchTimeSeconds     int64      `bson:"watch_time_seconds" json:"watch_time_seconds"`
	CompletionPercentage float64    `bson:"completion_percentage" json:"completion_percentage"`
	IsCompleted          bool       `bson:"is_completed" json:"is_completed"`
	Bookmarks            []Bookmark `bson:"bookmarks" json:"bookmarks"`
	Notes                string     `bson:"notes,omitempty" json:"notes,omitempty"`
}

// Session is the aggregate root for one shared interaction. Exactly one
// variant payload is populated, selected by Kind.
type Session struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	SessionID string             `bson:"session_id" json:"session_id"` // uuid v4
	Kind      SessionKind        `bson:"kind" json:"kind"`

	Title       string `bson:"title,omitempty" json:"title,omitempty"`
	Description string `bson:"description,omitempty" json:"description,omitempty"`

	HostID string        `bson:"host_id,omitempty" json:"host_id,omitempty"`
	Status SessionStatus `bson:"status" json:"status"`

	Participants []Participant `bson:"participants" json:"participants"`

	Region           string `bson:"region,omitempty" json:"region,omitempty"`
	IsPrivate        bool   `bson:"is_private" json:"is_private"`
	AccessSecretHash string `bson:"access_secret_hash,omitempty" json:"-"` // bcrypt

	ScheduledAt     time.Time  `bson:"scheduled_at" json:"scheduled_at"`
	StartedAt       *time.Time `bson:"started_at,omitempty" json:"started_at,omitempty"`
	EndedAt         *time.Time `bson:"ended_at,omitempty" json:"ended_at,omitempty"`
	DurationSeconds int64      `bson:"duration_seconds" json:"duration_seconds"`

	Call    *CallDetail    `bson:"call,omitempty" json:"call,omitempty"`
	Chat    *ChatDetail    `bson:"chat,omitempty" json:"chat,omitempty"`
	Group   *GroupDetail   `bson:"group,omitempty" json:"group,omitempty"`
	Game    *GameDetail    `bson:"game,omitempty" json:"game,omitempty"`
	Lecture *LectureDetail `bson:"lecture,omitempty" json:"lecture,omitempty"`

	// ArchivedChat holds the chat log preserved by a chat -> call upgrade.
	// Informational only; never the live payload.
	ArchivedChat *ChatDetail `bson:"archived_chat,omitempty" json:"archived_chat,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// FindParticipant returns a pointer into Participants, or nil.
func (s *Session) FindParticipant(userID string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return &s.Participants[i]
		}
	}
	return nil
}

func (s *Session) ActiveCount() int {
	n := 0
	for i := range s.Participants {
		if s.Participants[i].IsActive {
			n++
		}
	}
	return n
}

// Capacity is the kind-specific active-participant limit enforced on join.
func (s *Session) Capacity() int {
	switch {
	case s.Kind.IsCall() && s.Call != nil:
		return s.Call.MaxParticipants
	case s.Kind == KindGroupChat && s.Group != nil:
		return s.Group.MaxParticipants
	case s.Kind == KindChat:
		return 2
	default:
		// solo kinds
		return 1
	}
}

// ChatLog returns the live chat log for chat kinds, nil otherwise.
func (s *Session) ChatLog() *ChatDetail {
	switch s.Kind {
	case KindChat:
		return s.Chat
	case KindGroupChat:
		if s.Group == nil {
			return nil
		}
		return &s.Group.ChatDetail
	}
	return nil
}

// IsFull is the derived discovery flag for group listings.
func (s *Session) IsFull() bool {
	return s.ActiveCount() >= s.Capacity()
}
