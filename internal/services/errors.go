package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/macroscope/macroscope/internal/filepolicy"
	apperrors "github.com/macroscope/macroscope/pkg/errors"
)

var (
	// ErrNotAuthenticated indicates the caller has no valid session.
	ErrNotAuthenticated = apperrors.ErrUnauthorized
	// ErrInvalidCredentials is returned for any failed email/password check.
	ErrInvalidCredentials = apperrors.ErrInvalidCredentials
	// ErrEmailNotVerified tells the client to route to the verification screen.
	ErrEmailNotVerified = apperrors.New("EMAIL_NOT_VERIFIED", "Please verify your email address before signing in", http.StatusForbidden)
	// ErrAccountLocked indicates too many failed sign-in attempts.
	ErrAccountLocked = apperrors.New("ACCOUNT_LOCKED", "Too many failed attempts, try again later", http.StatusLocked)
	// ErrInvalidToken covers unknown, used or expired email tokens.
	ErrInvalidToken = apperrors.New("INVALID_TOKEN", "This link is invalid or has expired", http.StatusBadRequest)
	// ErrDuplicateIdentity signals the email or username is already registered.
	ErrDuplicateIdentity = apperrors.New("DUPLICATE_IDENTITY", "An account with this email or username already exists", http.StatusConflict)

	// ErrAccessDenied indicates a failed role or membership check.
	ErrAccessDenied = apperrors.New("ACCESS_DENIED", "You do not have permission to perform this action", http.StatusForbidden)
	// ErrNotFoundOrAccessDenied hides whether a resource exists from non-members.
	ErrNotFoundOrAccessDenied = apperrors.New("NOT_FOUND_OR_ACCESS_DENIED", "The item was not found or you do not have access to it", http.StatusNotFound)
	// ErrProjectNotFoundOrAccessDenied is the project flavour of ErrNotFoundOrAccessDenied.
	ErrProjectNotFoundOrAccessDenied = ErrNotFoundOrAccessDenied.WithMessage("Project not found or you are not a member of its group")

	ErrUserNotFound        = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	ErrGroupNotFound       = apperrors.New("GROUP_NOT_FOUND", "Group not found", http.StatusNotFound)
	ErrJoinRequestNotFound = apperrors.New("JOIN_REQUEST_NOT_FOUND", "Join request not found", http.StatusNotFound)
	ErrInvitationNotFound  = apperrors.New("INVITATION_NOT_FOUND", "Invitation not found", http.StatusNotFound)
	ErrInvitationExpired   = apperrors.New("INVITATION_EXPIRED", "This invitation has expired", http.StatusGone)

	ErrDuplicatePendingRequest   = apperrors.New("DUPLICATE_PENDING_REQUEST", "A pending request already exists", http.StatusConflict)
	ErrAlreadyMember             = apperrors.New("ALREADY_MEMBER", "User is already a member", http.StatusConflict)
	ErrCannotRemoveCreator       = apperrors.New("CANNOT_REMOVE_CREATOR", "The creator cannot be removed", http.StatusConflict)
	ErrLastMemberRemoval         = apperrors.New("LAST_MEMBER_REMOVAL", "A project must keep at least one member", http.StatusConflict)
	ErrLastAdmin                 = apperrors.New("LAST_ADMIN", "Transfer the admin role before leaving this group", http.StatusConflict)
	ErrIncompleteTransferMapping = apperrors.New("INCOMPLETE_TRANSFER_MAPPING", "Choose a valid new owner for every item being transferred", http.StatusUnprocessableEntity)
	ErrRequestAlreadyProcessed   = apperrors.New("REQUEST_ALREADY_PROCESSED", "This request has already been processed", http.StatusConflict)
	ErrNotGroupMember            = apperrors.New("NOT_GROUP_MEMBER", "User is not a member of this group", http.StatusUnprocessableEntity)
	ErrStorageOperationFailed    = apperrors.New("STORAGE_OPERATION_FAILED", "File storage is unavailable, please try again", http.StatusBadGateway)

	ErrAccountDeletionIncomplete = apperrors.New("ACCOUNT_DELETION_INCOMPLETE", "Some of your data could not be removed, your account was kept", http.StatusConflict)
)

// File validation errors are defined next to the upload policy.
var (
	ErrFileTooLarge     = filepolicy.ErrFileTooLarge
	ErrInvalidFileType  = filepolicy.ErrInvalidFileType
	ErrInvalidFilename  = filepolicy.ErrInvalidFilename
	ErrNoFileExtension  = filepolicy.ErrNoFileExtension
	ErrBlockedExtension = filepolicy.ErrBlockedExtension
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate")
}
