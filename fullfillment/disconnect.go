package fullfillment

import log "log/slog"

type DisconnectResponse struct {
}

// disconnect unlinks the user. Device state is kept.
func (f *Fullfillment) disconnect(requestId string, userId string) DisconnectResponse {
	unlinked := f.links.Unlink(userId)
	log.Info("handle disconnect request", "request", requestId, "user", userId, "unlinked", unlinked)
	return DisconnectResponse{}
}
