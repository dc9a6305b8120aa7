package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/upbitbot/internal/domain"
)

func TestAssembler_JoinsFragmentsOnFinal(t *testing.T) {
	var a Assembler

	msg, done, err := a.Push(domain.Frame{Data: []byte(`{"type":"ticker","code":"KRW-BTC",`)})
	require.NoError(t, err)
	assert.False(t, done)
	assert.Nil(t, msg)

	msg, done, err = a.Push(domain.Frame{Data: []byte(`"trade_price":101.5}`), Final: true})
	require.NoError(t, err)
	require.True(t, done)

	docs := SplitDocuments(msg)
	require.Len(t, docs, 1)
	tick, err := ParseTicker(docs[0])
	require.NoError(t, err)
	assert.Equal(t, "KRW-BTC", tick.Code)
	assert.Equal(t, 101.5, tick.TradePrice)

	// Buffer is reset for the next message.
	msg, done, err = a.Push(domain.Frame{Data: []byte("x"), Final: true})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "x", string(msg))
}

func TestAssembler_RejectsOversizedMessage(t *testing.T) {
	a := Assembler{max: 8}
	_, _, err := a.Push(domain.Frame{Data: []byte("12345")})
	require.NoError(t, err)
	_, _, err = a.Push(domain.Frame{Data: []byte("6789")})
	assert.ErrorIs(t, err, domain.ErrParse)

	// the tail of the rejected message is dropped, not parsed as a new one
	msg, done, err := a.Push(domain.Frame{Data: []byte("ta")})
	require.NoError(t, err)
	assert.False(t, done)
	msg, done, err = a.Push(domain.Frame{Data: []byte("il"), Final: true})
	require.NoError(t, err)
	assert.False(t, done)
	assert.Nil(t, msg)

	msg, done, err = a.Push(domain.Frame{Data: []byte("ok"), Final: true})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "ok", string(msg))
}

func TestAssembler_OversizedFinalFrameDoesNotDiscardNext(t *testing.T) {
	a := Assembler{max: 4}
	_, _, err := a.Push(domain.Frame{Data: []byte("123456"), Final: true})
	assert.ErrorIs(t, err, domain.ErrParse)

	msg, done, err := a.Push(domain.Frame{Data: []byte("ok"), Final: true})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "ok", string(msg))
}

func TestSplitDocuments_SkipsBlankLines(t *testing.T) {
	docs := SplitDocuments([]byte("{\"a\":1}\n\n  \r\n{\"b\":2}\r\n"))
	require.Len(t, docs, 2)
	assert.Equal(t, `{"a":1}`, string(docs[0]))
	assert.Equal(t, `{"b":2}`, string(docs[1]))
}

func TestParseTicker_Errors(t *testing.T) {
	for _, doc := range []string{
		`not json`,
		`{"type":"trade","code":"KRW-BTC","trade_price":1}`,
		`{"type":"ticker","trade_price":1}`,
		`{"type":"ticker","code":"KRW-BTC"}`,
		`{"status":"UP"}`,
	} {
		_, err := ParseTicker([]byte(doc))
		assert.ErrorIs(t, err, domain.ErrParse, doc)
	}
}
