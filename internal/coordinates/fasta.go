// Package coordinates resolves PharmGKB genotypes to reference-anchored
// genotype identifiers.
package coordinates

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// faiEntry is one sequence record of a FASTA index, in samtools faidx layout.
type faiEntry struct {
	length    int64 // total bases in the sequence
	offset    int64 // file offset of the first base
	lineBases int64 // bases per line
	lineWidth int64 // bytes per line including the terminator
}

// Fasta provides random access to bases of a reference genome FASTA file.
// It keeps an open read-only handle for its lifetime; lookups use ReadAt and
// are safe for concurrent use.
type Fasta struct {
	file  *os.File
	index map[string]faiEntry
}

// OpenFasta opens a FASTA file for position lookups. A samtools-style .fai
// index alongside the file is used when present, otherwise the index is built
// by scanning the file once.
func OpenFasta(path string) (*Fasta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open FASTA file: %w", err)
	}

	fa := &Fasta{file: f}

	if index, err := loadFaidx(path + ".fai"); err == nil {
		fa.index = index
		return fa, nil
	}

	if err := fa.buildIndex(); err != nil {
		f.Close()
		return nil, fmt.Errorf("index FASTA file: %w", err)
	}
	return fa, nil
}

// Close releases the underlying file handle.
func (f *Fasta) Close() error {
	return f.file.Close()
}

// SequenceCount returns the number of indexed sequences.
func (f *Fasta) SequenceCount() int {
	return len(f.index)
}

// Base returns the uppercased base at a 1-based position on a contig.
// The contig name is normalized, so "chr1", "1" and "NC_000001.11" are
// interchangeable as long as the FASTA uses one of these conventions.
func (f *Fasta) Base(contig string, pos int64) (byte, error) {
	e, ok := f.index[NormalizeContig(contig)]
	if !ok {
		return 0, fmt.Errorf("contig %q not found in FASTA", contig)
	}
	if pos < 1 || pos > e.length {
		return 0, fmt.Errorf("position %d out of range for contig %q (length %d)", pos, contig, e.length)
	}

	i := pos - 1
	off := e.offset + i/e.lineBases*e.lineWidth + i%e.lineBases
	var buf [1]byte
	if _, err := f.file.ReadAt(buf[:], off); err != nil {
		return 0, fmt.Errorf("read base at %s:%d: %w", contig, pos, err)
	}
	b := buf[0]
	if b >= 'a' && b <= 'z' {
		b -= 'a' - 'A'
	}
	return b, nil
}

// RefSeq chromosome accessions, e.g. NC_000001.11 for chromosome 1.
var reRefSeqChrom = regexp.MustCompile(`^NC_0*(\d+)\.\d+$`)

// NormalizeContig maps a contig name to the bare chromosome convention used
// in genotype identifiers: "chr" prefixes are stripped and RefSeq accessions
// are converted (NC_000001.11 -> 1, NC_000023 -> X, NC_012920 -> MT).
func NormalizeContig(name string) string {
	name = strings.TrimPrefix(name, "chr")
	if m := reRefSeqChrom.FindStringSubmatch(name); m != nil {
		switch m[1] {
		case "23":
			return "X"
		case "24":
			return "Y"
		case "12920":
			return "MT"
		default:
			return m[1]
		}
	}
	return name
}

// loadFaidx reads a samtools faidx file: name, length, offset, linebases,
// linewidth per tab-separated line.
func loadFaidx(path string) (map[string]faiEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	index := make(map[string]faiEntry)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) < 5 {
			return nil, fmt.Errorf("malformed faidx line: %q", scanner.Text())
		}
		var nums [4]int64
		for i, field := range fields[1:5] {
			n, err := strconv.ParseInt(field, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed faidx line %q: %w", scanner.Text(), err)
			}
			nums[i] = n
		}
		index[NormalizeContig(fields[0])] = faiEntry{
			length:    nums[0],
			offset:    nums[1],
			lineBases: nums[2],
			lineWidth: nums[3],
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return index, nil
}

// buildIndex scans the FASTA once and records per-sequence offsets and line
// geometry, assuming uniform line length within each sequence (the faidx
// invariant).
func (f *Fasta) buildIndex() error {
	if _, err := f.file.Seek(0, 0); err != nil {
		return err
	}
	reader := bufio.NewReaderSize(f.file, 1<<20)

	f.index = make(map[string]faiEntry)
	var (
		name    string
		entry   faiEntry
		offset  int64
		started bool
	)
	save := func() {
		if name != "" {
			f.index[NormalizeContig(name)] = entry
		}
	}

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			lineLen := int64(len(line))
			seq := strings.TrimRight(line, "\r\n")
			if strings.HasPrefix(seq, ">") {
				save()
				// Sequence name is the first word of the header.
				name = ""
				if fields := strings.Fields(seq[1:]); len(fields) > 0 {
					name = fields[0]
				}
				entry = faiEntry{offset: offset + lineLen}
				started = false
			} else if name != "" && seq != "" {
				if !started {
					entry.lineBases = int64(len(seq))
					entry.lineWidth = lineLen
					started = true
				}
				entry.length += int64(len(seq))
			}
			offset += lineLen
		}
		if err != nil {
			break
		}
	}
	save()
	return nil
}
