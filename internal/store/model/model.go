// Package model defines the DynamoDB-backed entities the store gateway
// (internal/store) persists, following the table/PK conventions of the
// teacher's internal/model package (tables.go, conversation.go).
package model

import "fmt"

const (
	UsersTable            = "Users"
	ConversationsTable    = "Conversations"
	ParticipantsTable     = "Participants"
	MessagesTable         = "Messages"
	MessagingRulesTable   = "MessagingRules"
	ContactRequestsTable  = "ContactRequests"
	BlockedUsersTable     = "BlockedUsers"
)

// ConversationType mirrors spec.md §3.
type ConversationType string

const (
	ConversationDirect       ConversationType = "DIRECT"
	ConversationGroup        ConversationType = "GROUP"
	ConversationSupport      ConversationType = "SUPPORT"
	ConversationAnnouncement ConversationType = "ANNOUNCEMENT"
)

type ParticipantRole string

const (
	RoleOwner  ParticipantRole = "OWNER"
	RoleAdmin  ParticipantRole = "ADMIN"
	RoleMember ParticipantRole = "MEMBER"
)

type MessageType string

const (
	MessageText       MessageType = "TEXT"
	MessageSystem     MessageType = "SYSTEM"
	MessageAttachment MessageType = "ATTACHMENT"
)

type RuleScope string

const (
	ScopeTenant   RuleScope = "tenant"
	ScopePlatform RuleScope = "platform"
)

type ContactRequestStatus string

const (
	ContactPending  ContactRequestStatus = "PENDING"
	ContactAccepted ContactRequestStatus = "ACCEPTED"
	ContactDeclined ContactRequestStatus = "DECLINED"
	ContactExpired  ContactRequestStatus = "EXPIRED"
)

// UserCacheItem is the read-only denormalized sender/participant view.
// It is populated by an external sync and never authoritative for auth,
// except for TenantID/TenantRole/PlatformRole, which the permission
// engine reads to resolve the roles of a third party named only by
// userId (a DIRECT recipient, a GROUP member being added) since that
// party's own identity.Claims aren't available outside their own
// session or request.
type UserCacheItem struct {
	UserID       string `dynamodbav:"userId"`
	Email        string `dynamodbav:"email,omitempty"`
	FirstName    string `dynamodbav:"firstName,omitempty"`
	LastName     string `dynamodbav:"lastName,omitempty"`
	AvatarURL    string `dynamodbav:"avatarUrl,omitempty"`
	TenantID     string `dynamodbav:"tenantId,omitempty"`
	TenantRole   string `dynamodbav:"tenantRole,omitempty"`
	PlatformRole string `dynamodbav:"platformRole,omitempty"`
}

type ConversationItem struct {
	ConversationID string           `dynamodbav:"conversationId"`
	Type           ConversationType `dynamodbav:"type"`
	Name           string           `dynamodbav:"name,omitempty"`
	Description    string           `dynamodbav:"description,omitempty"`
	AvatarURL      string           `dynamodbav:"avatarUrl,omitempty"`
	CreatedAt      string           `dynamodbav:"createdAt"`
	UpdatedAt      string           `dynamodbav:"updatedAt"`
}

type ParticipantItem struct {
	PK             string          `dynamodbav:"pk"`
	ConversationID string          `dynamodbav:"conversationId"`
	UserID         string          `dynamodbav:"userId"`
	TenantID       string          `dynamodbav:"tenantId,omitempty"`
	Role           ParticipantRole `dynamodbav:"role"`
	JoinedAt       string          `dynamodbav:"joinedAt"`
	LastReadAt     string          `dynamodbav:"lastReadAt,omitempty"`
}

type MessageItem struct {
	MessageID      string      `dynamodbav:"messageId"`
	ConversationID string      `dynamodbav:"conversationId"`
	SenderID       string      `dynamodbav:"senderId"`
	Content        string      `dynamodbav:"content"`
	Type           MessageType `dynamodbav:"type"`
	AttachmentURL  string      `dynamodbav:"attachmentUrl,omitempty"`
	AttachmentType string      `dynamodbav:"attachmentType,omitempty"`
	AttachmentName string      `dynamodbav:"attachmentName,omitempty"`
	ReplyToID      string      `dynamodbav:"replyToId,omitempty"`
	CreatedAt      string      `dynamodbav:"createdAt"`
	EditedAt       string      `dynamodbav:"editedAt,omitempty"`
	DeletedAt      string      `dynamodbav:"deletedAt,omitempty"`
}

type MessagingRuleItem struct {
	RuleID            string    `dynamodbav:"ruleId"`
	Name              string    `dynamodbav:"name"`
	SourceScope       RuleScope `dynamodbav:"sourceScope"`
	SourceRoles       []string  `dynamodbav:"sourceRoles"`
	TargetScope       RuleScope `dynamodbav:"targetScope"`
	TargetRoles       []string  `dynamodbav:"targetRoles"`
	RequireApproval   bool      `dynamodbav:"requireApproval"`
	MaxMessagesPerDay int       `dynamodbav:"maxMessagesPerDay,omitempty"`
	IsActive          bool      `dynamodbav:"isActive"`
	Priority          int       `dynamodbav:"priority"`
}

type ContactRequestItem struct {
	RequestID    string               `dynamodbav:"requestId"`
	FromUserID   string               `dynamodbav:"fromUserId"`
	FromTenantID string               `dynamodbav:"fromTenantId,omitempty"`
	ToUserID     string               `dynamodbav:"toUserId"`
	ToTenantID   string               `dynamodbav:"toTenantId,omitempty"`
	RuleID       string               `dynamodbav:"ruleId,omitempty"`
	Message      string               `dynamodbav:"message,omitempty"`
	Status       ContactRequestStatus `dynamodbav:"status"`
	CreatedAt    string               `dynamodbav:"createdAt"`
	RespondedAt  string               `dynamodbav:"respondedAt,omitempty"`
	ExpiresAt    string               `dynamodbav:"expiresAt"`
}

type BlockedUserItem struct {
	PK            string `dynamodbav:"pk"`
	UserID        string `dynamodbav:"userId"`
	BlockedUserID string `dynamodbav:"blockedUserId"`
	Reason        string `dynamodbav:"reason,omitempty"`
	CreatedAt     string `dynamodbav:"createdAt"`
}

func ParticipantPK(conversationID, userID string) string {
	return fmt.Sprintf("%s#%s", conversationID, userID)
}

func BlockedUserPK(userID, blockedUserID string) string {
	return fmt.Sprintf("%s#%s", userID, blockedUserID)
}
