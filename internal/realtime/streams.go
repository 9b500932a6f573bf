package realtime

// StreamInbox carries invitation and join request updates for the connected user.
const StreamInbox = "inbox"

// KnownStreams lists the streams a client may subscribe to.
var KnownStreams = []string{StreamInbox}
