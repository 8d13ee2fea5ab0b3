package session

import "errors"

var (
	ErrIllegalMove         = errors.New("rejected: illegal move")
	ErrWrongTurn           = errors.New("rejected: wrong turn")
	ErrRemoteProtocolFault = errors.New("remote protocol fault")
	ErrLinkFailure         = errors.New("peer link failure")
	ErrEngineUnavailable   = errors.New("engine unavailable")

	ErrPromotionPending   = errors.New("promotion choice pending")
	ErrNoPendingPromotion = errors.New("no promotion pending")
	ErrInvalidPromotion   = errors.New("invalid promotion piece")
	ErrGameOver           = errors.New("game is over")
	ErrSessionClosed      = errors.New("session closed")
)
