package models

import "time"

// SessionTokens groups the bearer credentials issued to an authenticated user.
type SessionTokens struct {
	AccessToken  string `json:"access"`
	RefreshToken string `json:"refresh"`
}

// UserProfile mirrors the backend's user representation cached locally.
type UserProfile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	Phone       string `json:"phone,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	Bio         string `json:"bio,omitempty"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
}

// UserRef is the short user shape embedded in chats, messages and sessions.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// MessagePreview is the truncated last-message shape attached to chat summaries.
type MessagePreview struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatSummary is one entry in the merged direct-chat/group list. The list
// invariant is descending order by UpdatedAt after every refresh.
type ChatSummary struct {
	ID          string          `json:"id"`
	IsGroup     bool            `json:"is_group"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Avatar      string          `json:"avatar,omitempty"`
	OtherUser   *UserRef        `json:"other_user,omitempty"`
	LastMessage *MessagePreview `json:"last_message,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Message type discriminators used by the chat backend.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

// ChatMessage is append-only from the client's perspective; the only
// destructive operation is an explicit delete, there is no edit.
type ChatMessage struct {
	ID        string    `json:"id"`
	Sender    UserRef   `json:"sender"`
	Content   string    `json:"content"`
	Type      string    `json:"message_type"`
	File      string    `json:"file,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Book is a library catalogue entry.
type Book struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	Category string `json:"category,omitempty"`
	Genre    string `json:"genre,omitempty"`
	Cover    string `json:"cover,omitempty"`
	File     string `json:"file,omitempty"`
}

// UserBook links a saved book to the current user.
type UserBook struct {
	ID      string    `json:"id"`
	Book    Book      `json:"book"`
	AddedAt time.Time `json:"added_at"`
}

// Video is a media catalogue entry including the viewer's like state.
type Video struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	URL           string `json:"video,omitempty"`
	Embed         string `json:"video_embed,omitempty"`
	Category      string `json:"category,omitempty"`
	LikesCount    int    `json:"likes_count"`
	IsLiked       bool   `json:"is_liked"`
	CommentsCount int    `json:"comments_count"`
}

// Comment is a user comment attached to a media item.
type Comment struct {
	ID        string    `json:"id"`
	User      UserRef   `json:"user"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Live session lifecycle states. Status is server-authoritative; the client
// only requests transitions and observes the result on a later poll.
const (
	SessionScheduled = "scheduled"
	SessionLive      = "live"
	SessionFinished  = "finished"
)

// LiveSession is a live-classroom broadcast entity.
type LiveSession struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Description       string    `json:"description,omitempty"`
	Status            string    `json:"status"`
	Streamer          UserRef   `json:"streamer"`
	ParticipantsCount int       `json:"participants_count"`
	Cover             string    `json:"cover,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Participant approval states. pending -> approved happens only through the
// streamer's approve call; there is no client-initiated cancel.
const (
	ParticipantPending  = "pending"
	ParticipantApproved = "approved"
	ParticipantRejected = "rejected"
)

// Participant is one member of a live session. Muted and CameraOff are
// independently toggled booleans, orthogonal to the approval status.
type Participant struct {
	ID          string  `json:"id"`
	User        UserRef `json:"user"`
	Status      string  `json:"status"`
	IsMuted     bool    `json:"is_muted"`
	IsCameraOff bool    `json:"is_camera_off"`
}

// LiveMessage is one entry in a live session's chat feed.
type LiveMessage struct {
	ID        string    `json:"id"`
	User      UserRef   `json:"user"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// AIMessage is one turn of the locally cached assistant transcript.
type AIMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ProfileStats is the aggregate counters shown on the profile view.
type ProfileStats struct {
	Books    int `json:"books"`
	Chats    int `json:"chats"`
	Videos   int `json:"videos"`
	Sessions int `json:"sessions"`
}
