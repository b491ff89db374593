package model

import "time"

const (
	TopicValidatedListUpdateRequest = "friends.validated-list.update-request"
	TopicPotentialFriendAddition    = "friends.potential-addition"
	TopicPotentialFriendRemoval     = "friends.potential-removal"
)

// QueueMessage is anything the reconciliation pipeline puts on the bus.
type QueueMessage interface {
	Topic() string
}

// ValidatedFriendsListUpdateRequest asks for the owner's validated list to be recomputed.
type ValidatedFriendsListUpdateRequest struct {
	AccountHash AccountHash `json:"accountHash"`
	EnqueueTime time.Time   `json:"enqueueTime"`
}

func (ValidatedFriendsListUpdateRequest) Topic() string { return TopicValidatedListUpdateRequest }

// PotentialFriendAddition tells the receiver that the sender now lists them and mutuality looks likely.
type PotentialFriendAddition struct {
	SendingAccountHash   AccountHash `json:"sendingAccountHash"`
	ReceivingAccountHash AccountHash `json:"receivingAccountHash"`
	Time                 time.Time   `json:"time"`
}

func (PotentialFriendAddition) Topic() string { return TopicPotentialFriendAddition }

// PotentialFriendRemoval tells the receiver that the sender dropped them.
type PotentialFriendRemoval struct {
	SendingAccountHash   AccountHash `json:"sendingAccountHash"`
	ReceivingAccountHash AccountHash `json:"receivingAccountHash"`
	Time                 time.Time   `json:"time"`
}

func (PotentialFriendRemoval) Topic() string { return TopicPotentialFriendRemoval }
