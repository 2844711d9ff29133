package export

import (
	"context"
	"errors"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-reward-report/internal/domain"
)

func sampleReport() domain.AccountReport {
	ev := func(block uint64, idx uint32, ts int64, reward string, err error) domain.EnrichedEvent {
		return domain.EnrichedEvent{
			RewardEvent: domain.RewardEvent{
				BlockNum:       block,
				ExtrinsicHash:  "0xabc",
				EventIdx:       idx,
				BlockTimestamp: ts,
				Amount:         big.NewInt(1),
			},
			Snapshot: domain.ChainSnapshot{
				BlockNum: block,
				Free:     decimal.RequireFromString("12.5"),
				Bonded:   decimal.RequireFromString("1000"),
			},
			Reward: decimal.RequireFromString(reward),
			Price:  decimal.RequireFromString("5.25"),
			Volume: decimal.RequireFromString("1000000"),
			Err:    err,
		}
	}
	return domain.AccountReport{
		Account: domain.Account{Address: "1abc", Name: "Big Bag Stash 223", Role: domain.RoleNominator},
		Events: []domain.EnrichedEvent{
			ev(100, 3, 1_704_067_200, "1.5", nil),
			ev(101, 1, 1_704_153_600, "2", errors.New("pruned")),
			ev(102, 0, 1_704_240_000, "0.25", nil),
		},
		Nominations: &domain.NominationRecord{
			Era: 1234,
			Targets: []domain.NominationTarget{
				{Address: "1val", Identity: "Parent / node-1"},
			},
		},
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "BBS223-1abc.csv", FileName(domain.Account{Name: "Big Bag Stash 223", Address: "1abc"}))
	assert.Equal(t, "v-1abc.csv", FileName(domain.Account{Name: "validator", Address: "1abc"}))
	assert.Equal(t, "-1abc.csv", FileName(domain.Account{Address: "1abc"}))
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "01/01/2024", FormatDate(1_704_067_200))
	assert.Equal(t, "29/02/2024", FormatDate(1_709_208_000))
}

func TestCSVWriterLayout(t *testing.T) {
	dir := t.TempDir()
	w := NewCSVWriter(CSVOptions{Dir: dir, PriceCurrency: "usd", VolumeCurrency: "eur"}, zerolog.Nop())

	path, err := w.Write(sampleReport())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "BBS223-1abc.csv"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)

	lines := strings.Split(strings.TrimSuffix(content, "\r\n"), "\r\n")
	require.Len(t, lines, 11)
	assert.Equal(t, "Address:,1abc", lines[0])
	assert.Equal(t, "Name:,Big Bag Stash 223", lines[1])
	assert.Equal(t, "Role:,Nominator", lines[2])
	assert.Equal(t, "", lines[3])
	assert.Equal(t, "Nominating:", lines[4])
	assert.Equal(t, "Nominating Since (Era),Name / Identity,Address", lines[5])
	assert.Equal(t, `1234,Parent / node-1,"=HYPERLINK(""https://polkadot.subscan.io/account/1val"", ""1val"")"`, lines[6])
	assert.Equal(t, "", lines[7])
	assert.Equal(t, "Date,Block Number,Extrinsic Event,Block Timestamp,Reward Amount (DOT),Price (USD),Volume (EUR),Balance at Block,Bonded at Block", lines[8])
	assert.Equal(t,
		`01/01/2024,"=HYPERLINK(""https://polkadot.subscan.io/block/100"", ""100"")","=HYPERLINK(""https://polkadot.subscan.io/extrinsic/0xabc?event=100-3"", ""100-3"")",1704067200,1.5,5.25,1000000,12.5,1000`,
		lines[9])
	assert.True(t, strings.HasPrefix(lines[10], "03/01/2024,"), lines[10])
	assert.NotContains(t, content, "block/101")
}

func TestCSVWriterValidatorHasNoNominationSection(t *testing.T) {
	rep := sampleReport()
	rep.Account.Role = domain.RoleValidator
	rep.Nominations = nil

	w := NewCSVWriter(CSVOptions{Dir: t.TempDir(), ExplorerURL: "https://kusama.subscan.io/", PriceCurrency: "usd", VolumeCurrency: "usd"}, zerolog.Nop())
	path, err := w.Write(rep)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "Nominating")
	assert.Contains(t, string(raw), "https://kusama.subscan.io/block/100")
}

func TestWriteChart(t *testing.T) {
	dir := t.TempDir()
	rep := sampleReport()
	path := ChartPath(dir, rep.Account)
	assert.Equal(t, filepath.Join(dir, "BBS223-1abc.png"), path)

	require.NoError(t, WriteChart(path, rep))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	rep.Events = rep.Events[:1]
	assert.ErrorIs(t, WriteChart(path, rep), ErrTooFewPoints)
}

type fakePutter struct {
	key         string
	bucket      string
	contentType string
	body        string
	err         error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.key = aws.ToString(in.Key)
	f.bucket = aws.ToString(in.Bucket)
	f.contentType = aws.ToString(in.ContentType)
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, nil
}

func TestUploaderUpload(t *testing.T) {
	file := filepath.Join(t.TempDir(), "BBS223-1abc.csv")
	require.NoError(t, os.WriteFile(file, []byte("a,b\r\n"), 0o644))

	putter := &fakePutter{}
	u := newUploader(putter, S3Options{Bucket: "reports", Prefix: "/staking/"}, zerolog.Nop())

	key, err := u.Upload(context.Background(), "run-1", file)
	require.NoError(t, err)
	assert.Equal(t, "staking/run-1/BBS223-1abc.csv", key)
	assert.Equal(t, key, putter.key)
	assert.Equal(t, "reports", putter.bucket)
	assert.Equal(t, "text/csv", putter.contentType)
	assert.Equal(t, "a,b\r\n", putter.body)

	putter.err = errors.New("denied")
	_, err = u.Upload(context.Background(), "run-1", file)
	assert.ErrorContains(t, err, "staking/run-1/BBS223-1abc.csv")
}

func TestCSVWriterNeutralisesFormulaText(t *testing.T) {
	rep := sampleReport()
	rep.Account.Name = "+cmd|' /C calc'!A0"
	rep.Nominations.Targets = []domain.NominationTarget{
		{Address: "1val", Identity: `=HYPERLINK("http://evil.example","click")`},
		{Address: "2val", Identity: "@SUM(1+1)"},
		{Address: "3val", Identity: "Parent / -dash"},
	}
	rep.Events[0].ExtrinsicHash = `0xabc")&"`

	w := NewCSVWriter(CSVOptions{Dir: t.TempDir(), PriceCurrency: "usd", VolumeCurrency: "usd"}, zerolog.Nop())
	path, err := w.Write(rep)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(raw), "\r\n"), "\r\n")

	assert.Equal(t, `Name:,'+cmd|' /C calc'!A0`, lines[1])
	assert.Equal(t, `1234,"'=HYPERLINK(""http://evil.example"",""click"")","=HYPERLINK(""https://polkadot.subscan.io/account/1val"", ""1val"")"`, lines[6])
	assert.True(t, strings.HasPrefix(lines[7], "1234,'@SUM(1+1),"), lines[7])
	assert.True(t, strings.HasPrefix(lines[8], "1234,Parent / -dash,"), lines[8])
	assert.Contains(t, string(raw), `/extrinsic/0xabc"""")&""""?event=100-3`)
}

func TestCSVWriterReportsUnavailableNominations(t *testing.T) {
	rep := sampleReport()
	rep.Nominations = nil
	rep.NominationsErr = errors.New("resolve nominations: rpc unavailable")

	w := NewCSVWriter(CSVOptions{Dir: t.TempDir(), PriceCurrency: "usd", VolumeCurrency: "usd"}, zerolog.Nop())
	path, err := w.Write(rep)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(raw), "\r\n"), "\r\n")
	assert.Equal(t, "Nominating:", lines[4])
	assert.Equal(t, "Unavailable,resolve nominations: rpc unavailable", lines[5])
	assert.Contains(t, string(raw), "block/100")
}
