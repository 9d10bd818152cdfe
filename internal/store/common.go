package store

var Magic = [4]byte{'R', 'F', 'R', 'G'}

const MagicString = "RFRG"

// Version is the file format the engine writes. Files at an older version
// are upgraded on open unless upgrades are disabled.
const Version uint32 = 2

// MinUpgradableVersion is the oldest format that can be upgraded in place.
const MinUpgradableVersion uint32 = 1

const HeaderSize = 64

const StoreReserveVA = 1 << 30
