package common

// UnknownUser is stored in created_by / created_by_uid when the acting
// identity could not be resolved.
const UnknownUser = "unknown"

// IdentityChangedChannel is the pub/sub channel carrying sign-in and
// sign-out notifications.
const IdentityChangedChannel = "identity-changed"
