package account

// Storage keys for account settings. Parameters use the param- prefix on
// top of the parameter name.
const (
	keyManager              = "manager"
	keyProtocol             = "protocol"
	keyDisplayName          = "DisplayName"
	keyIcon                 = "Icon"
	keyNickname             = "Nickname"
	keyService              = "Service"
	keyNormalizedName       = "NormalizedName"
	keyEnabled              = "Enabled"
	keyConnectAutomatically = "ConnectAutomatically"
	keyHasBeenOnline        = "HasBeenOnline"
	keyHidden               = "Hidden"
	keyAutoPresenceKind     = "AutomaticPresenceType"
	keyAutoPresenceStatus   = "AutomaticPresenceStatus"
	keyAutoPresenceMessage  = "AutomaticPresenceMessage"
	keyAvatarToken          = "AvatarToken"
	keyAvatarMime           = "AvatarMime"

	paramPrefix = "param-"

	// registerParamName is the one-shot account-registration parameter;
	// cleared from storage after the first successful connection.
	registerParamName = "register"
)

// Property names carried in change notifications.
const (
	PropEnabled                = "Enabled"
	PropValid                  = "Valid"
	PropDisplayName            = "DisplayName"
	PropIcon                   = "Icon"
	PropNickname               = "Nickname"
	PropService                = "Service"
	PropNormalizedName         = "NormalizedName"
	PropParameters             = "Parameters"
	PropAutomaticPresence      = "AutomaticPresence"
	PropCurrentPresence        = "CurrentPresence"
	PropRequestedPresence      = "RequestedPresence"
	PropChangingPresence       = "ChangingPresence"
	PropConnectAutomatically   = "ConnectAutomatically"
	PropConnection             = "Connection"
	PropConnectionStatus       = "ConnectionStatus"
	PropConnectionStatusReason = "ConnectionStatusReason"
	PropConnectionError        = "ConnectionError"
	PropConnectionErrorDetails = "ConnectionErrorDetails"
	PropHasBeenOnline          = "HasBeenOnline"
	PropAvatar                 = "Avatar"
	PropHidden                 = "Hidden"
)
