package diagnostic

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiagnostic_MessageAndLocation(t *testing.T) {
	d := Diagnostic{Message: "boom", Location: Location{SystemID: "stylesheet", Line: 3, Column: 7}}
	require.Equal(t, "boom; SystemID: stylesheet; Line#: 3; Column#: 7", d.MessageAndLocation())
	require.Equal(t, "boom; Line#: 3", Diagnostic{Message: "boom", Location: Location{Line: 3}}.MessageAndLocation())
	require.Equal(t, "boom", Diagnostic{Message: "boom"}.MessageAndLocation())
}

func TestCollector_Order(t *testing.T) {
	c := NewCollector()
	Report(c, Diagnostic{Level: LevelWarning, Message: "w"})
	Report(c, Diagnostic{Level: LevelError, Message: "e", Location: Location{Line: 2}})
	Report(c, Diagnostic{Level: LevelFatal, Message: "f"})
	require.Equal(t, "w\ne; Line#: 2\nf\n", c.String())
	require.Equal(t, 3, c.Len())

	got := c.Diagnostics()
	require.Equal(t, []Level{LevelWarning, LevelError, LevelFatal}, []Level{got[0].Level, got[1].Level, got[2].Level})
	got[0].Message = "changed"
	require.Equal(t, "w", c.Diagnostics()[0].Message)
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Warning(Diagnostic{Message: "x"})
		}()
	}
	wg.Wait()
	require.Equal(t, 16, c.Len())
}

func TestReport_NilListener(t *testing.T) {
	require.NotPanics(t, func() { Report(nil, Diagnostic{Message: "ignored"}) })
}

func TestTee(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	var fatals int
	l := Tee(a, nil, b, ListenerFuncs{OnFatal: func(Diagnostic) { fatals++ }})
	l.Warning(Diagnostic{Message: "one"})
	l.Fatal(Diagnostic{Message: "two"})
	require.Equal(t, "one\ntwo\n", a.String())
	require.Equal(t, a.String(), b.String())
	require.Equal(t, 1, fatals)

	var seen []string
	Each(func(d Diagnostic) { seen = append(seen, d.Level.String()) }).Error(Diagnostic{Level: LevelError})
	require.Equal(t, []string{"error"}, seen)
}

func TestError(t *testing.T) {
	err := error(&Error{Message: "bad", Location: Location{Line: 1, Column: 2}, Err: io.ErrUnexpectedEOF})
	require.Equal(t, "bad; Line#: 1; Column#: 2", err.Error())
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	var de *Error
	require.True(t, errors.As(err, &de))
	require.Equal(t, LevelFatal, de.Diagnostic().Level)
}
