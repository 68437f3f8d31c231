package redis

// Key prefixes for primary entity storage.
const (
	prefixWebhook  = "herald:wh:"
	prefixEvent    = "herald:evt:"
	prefixDelivery = "herald:del:"
)

// Unique (event, webhook) pair index. Value is the delivery ID.
const uniquePair = "herald:u:pair:"

// Key prefixes for sorted set indexes.
const (
	zWebhookCompany  = "herald:z:wh:co:"  // + company ID, scored by creation
	zEventCompany    = "herald:z:evt:co:" // + company ID, scored by creation
	zDeliveryCompany = "herald:z:del:co:" // + company ID, scored by creation
	zDeliveryWebhook = "herald:z:del:wh:" // + webhook ID, scored by creation
	zDeliveryDue     = "herald:z:del:due" // pending deliveries, scored by next attempt
)

// Hash fields of webhook and delivery records. Fields other than data are
// authoritative over the JSON blob so scripts can change them in place.
const (
	fieldData    = "data"
	fieldStatus  = "status"
	fieldCounter = "dlc"
	fieldCompany = "company"
	fieldCreated = "created"
	fieldNext    = "next"
)

// entityKey returns the primary key for an entity.
func entityKey(prefix, id string) string {
	return prefix + id
}

func pairKey(evtID, whID string) string {
	return uniquePair + evtID + ":" + whID
}
