package relay

const maxRequestSize = 4 << 20 // 4 MiB after decompression

const defaultBodyLimit = "1M"

// Plain-text confirmations returned with 200 responses.
const (
	ranCommandPrefix    = "Ran command: "
	updatedDefaultsText = "Updated defaults"
	deletedDefaultsText = "Deleted defaults"
)

const pushFileSuffix = ".apns"
