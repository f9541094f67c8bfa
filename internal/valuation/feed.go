package valuation

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"presale-ledger/internal/domain"
	"presale-ledger/internal/presale"
)

// Price feed record layout (little-endian):
//
//	offset size field
//	0      4    magic        u32 = FeedMagic
//	4      4    version      u32 = FeedVersion
//	8      4    exponent     i32
//	12     4    reserved
//	16     8    price        i64
//	24     8    confidence   u64
//	32     8    publish_time i64
const (
	FeedMagic      uint32 = 0xa1b2c3d4
	FeedVersion    uint32 = 2
	FeedRecordSize        = 40

	// MaxFeedAge is the freshness window in seconds.
	MaxFeedAge int64 = 300

	// MaxFeedExponent bounds |exponent| of an accepted feed.
	MaxFeedExponent = 18

	// NativeDecimals is the base-unit exponent of the native coin; payment
	// amounts are divided by 10^NativeDecimals during feed conversion.
	NativeDecimals = 9
)

// DecodePriceFeed decodes a binary price record. Trailing bytes past
// FeedRecordSize are ignored.
func DecodePriceFeed(buf []byte) (domain.PriceFeed, error) {
	if len(buf) < FeedRecordSize {
		return domain.PriceFeed{}, fmt.Errorf("%w: record is %d bytes, need %d", presale.ErrInvalidFeed, len(buf), FeedRecordSize)
	}
	if magic := binary.LittleEndian.Uint32(buf[0:4]); magic != FeedMagic {
		return domain.PriceFeed{}, fmt.Errorf("%w: bad magic %#x", presale.ErrInvalidFeed, magic)
	}
	if version := binary.LittleEndian.Uint32(buf[4:8]); version != FeedVersion {
		return domain.PriceFeed{}, fmt.Errorf("%w: unsupported version %d", presale.ErrInvalidFeed, version)
	}

	feed := domain.PriceFeed{
		Exponent:    int32(binary.LittleEndian.Uint32(buf[8:12])),
		Price:       int64(binary.LittleEndian.Uint64(buf[16:24])),
		Confidence:  binary.LittleEndian.Uint64(buf[24:32]),
		PublishTime: int64(binary.LittleEndian.Uint64(buf[32:40])),
	}
	if feed.Exponent > MaxFeedExponent || feed.Exponent < -MaxFeedExponent {
		return domain.PriceFeed{}, fmt.Errorf("%w: exponent %d out of range", presale.ErrInvalidFeed, feed.Exponent)
	}
	return feed, nil
}

// EncodePriceFeed is the inverse of DecodePriceFeed.
func EncodePriceFeed(feed domain.PriceFeed) []byte {
	buf := make([]byte, FeedRecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], FeedMagic)
	binary.LittleEndian.PutUint32(buf[4:8], FeedVersion)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(feed.Exponent))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(feed.Price))
	binary.LittleEndian.PutUint64(buf[24:32], feed.Confidence)
	binary.LittleEndian.PutUint64(buf[32:40], uint64(feed.PublishTime))
	return buf
}

// CheckFresh rejects feeds older than MaxFeedAge, non-positive prices and
// non-positive publish times. A publish time ahead of now is accepted.
func CheckFresh(feed domain.PriceFeed, now int64) error {
	if feed.Price <= 0 {
		return fmt.Errorf("%w: non-positive price %d", presale.ErrInvalidFeed, feed.Price)
	}
	if feed.PublishTime <= 0 || feed.PublishTime < now-MaxFeedAge {
		return fmt.Errorf("%w: published at %d, now %d", presale.ErrInvalidFeed, feed.PublishTime, now)
	}
	return nil
}

// FeedUSDValue converts amount native base units to whole USD:
// amount * price * 10^exponent / 10^NativeDecimals, truncated toward zero.
// Every step is exact; the only failure is a result beyond 64 bits.
func FeedUSDValue(amount uint64, feed domain.PriceFeed) (uint64, error) {
	if feed.Price <= 0 {
		return 0, fmt.Errorf("%w: non-positive price %d", presale.ErrInvalidFeed, feed.Price)
	}
	usd := decimal.NewFromBigInt(new(big.Int).SetUint64(amount), 0).
		Mul(decimal.New(feed.Price, feed.Exponent)).
		Shift(-NativeDecimals).
		BigInt()
	if !usd.IsUint64() {
		return 0, fmt.Errorf("%w: feed value of %d exceeds 64 bits", presale.ErrOverflow, amount)
	}
	return usd.Uint64(), nil
}
