package main

import (
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultPharmGKBBaseURL = "https://api.pharmgkb.org/v1/download/file/data"

// Ensembl primary assembly, bgzipped.
const defaultFastaURL = "https://ftp.ensembl.org/pub/release-112/fasta/homo_sapiens/dna/Homo_sapiens.GRCh38.dna.primary_assembly.fa.gz"

// pharmgkbBundles maps each PharmGKB download bundle to the tables the
// generate command reads from it.
var pharmgkbBundles = map[string][]string{
	"clinicalAnnotations.zip": {
		"clinical_annotations.tsv",
		"clinical_ann_alleles.tsv",
		"clinical_ann_evidence.tsv",
	},
	"variantAnnotations.zip": {
		"var_drug_ann.tsv",
		"var_pheno_ann.tsv",
	},
	"variants.zip": {"variants.tsv"},
	"drugs.zip":    {"drugs.tsv"},
}

func newDownloadCmd() *cobra.Command {
	var (
		dataDir   string
		baseURL   string
		fastaURL  string
		fastaPath string
		withFasta bool
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the PharmGKB tables and optionally the reference genome",
		Long: `Download fetches the PharmGKB bundles (clinical annotations, variant
annotations, variants, drugs), extracts the TSV tables the generate
command reads, and can also fetch the GRCh38 primary assembly FASTA.`,
		Example: `  pgkb-evidence download --data-dir data/
  pgkb-evidence download --data-dir data/ --with-fasta --fasta data/GRCh38.fa`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := downloadTables(baseURL, dataDir); err != nil {
				return err
			}
			if withFasta {
				if err := downloadFasta(fastaURL, fastaPath); err != nil {
					return err
				}
			}
			fmt.Fprintf(os.Stderr, "\nDownload complete. To generate evidence, run:\n")
			fmt.Fprintf(os.Stderr, "  pgkb-evidence generate --data-dir %s --fasta <GRCh38.fa> -o evidence.json\n", dataDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "data", "Directory to extract the PharmGKB tables into")
	cmd.Flags().StringVar(&baseURL, "base-url", defaultPharmGKBBaseURL, "PharmGKB download endpoint")
	cmd.Flags().BoolVar(&withFasta, "with-fasta", false, "Also download the GRCh38 primary assembly FASTA")
	cmd.Flags().StringVar(&fastaURL, "fasta-url", defaultFastaURL, "Reference genome FASTA URL (gzip supported)")
	cmd.Flags().StringVar(&fastaPath, "fasta", "data/GRCh38.fa", "Destination path for the decompressed FASTA")

	return cmd
}

// downloadTables fetches each PharmGKB bundle and extracts the tables the
// pipeline reads. Bundles whose tables are all present are skipped.
func downloadTables(baseURL, dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	bundles := make([]string, 0, len(pharmgkbBundles))
	for name := range pharmgkbBundles {
		bundles = append(bundles, name)
	}
	sort.Strings(bundles)

	for _, bundle := range bundles {
		tables := pharmgkbBundles[bundle]
		if allPresent(dataDir, tables) {
			fmt.Fprintf(os.Stderr, "  %s tables already present, skipping\n", bundle)
			continue
		}

		zipPath := filepath.Join(dataDir, bundle)
		if err := downloadFile(strings.TrimSuffix(baseURL, "/")+"/"+bundle, zipPath); err != nil {
			return fmt.Errorf("download %s: %w", bundle, err)
		}
		if err := extractTables(zipPath, dataDir, tables); err != nil {
			return fmt.Errorf("extract %s: %w", bundle, err)
		}
		os.Remove(zipPath)
	}
	return nil
}

func allPresent(dir string, names []string) bool {
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// extractTables pulls the wanted members out of a PharmGKB zip bundle,
// matching on base name since bundles may nest files in a directory.
func extractTables(zipPath, destDir string, wanted []string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	want := make(map[string]bool, len(wanted))
	for _, name := range wanted {
		want[name] = true
	}

	extracted := 0
	for _, f := range r.File {
		name := filepath.Base(f.Name)
		if !want[name] {
			continue
		}
		if err := extractMember(f, filepath.Join(destDir, name)); err != nil {
			return err
		}
		extracted++
	}
	if extracted != len(wanted) {
		return fmt.Errorf("archive is missing tables: got %d of %d", extracted, len(wanted))
	}
	return nil
}

func extractMember(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open archive member %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	fmt.Fprintf(os.Stderr, "  Extracted %s\n", filepath.Base(destPath))
	return nil
}

// downloadFasta fetches the reference genome, decompressing gzip content on
// the fly so the result is directly indexable.
func downloadFasta(url, destPath string) error {
	if info, err := os.Stat(destPath); err == nil {
		fmt.Fprintf(os.Stderr, "  %s already exists (%s), skipping\n", filepath.Base(destPath), formatSize(info.Size()))
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create FASTA directory: %w", err)
	}

	fmt.Fprintf(os.Stderr, "  Downloading %s...\n", filepath.Base(url))
	client := &http.Client{Timeout: 2 * time.Hour}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP error: %s", resp.Status)
	}

	var downloaded int64
	body := io.Reader(io.TeeReader(resp.Body, &progressWriter{
		total:      resp.ContentLength,
		downloaded: &downloaded,
		lastPrint:  time.Now(),
	}))
	if strings.HasSuffix(url, ".gz") {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		body = gz
	}

	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("download failed: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename file: %w", err)
	}
	fmt.Fprintf(os.Stderr, "    Done: %s\n", formatSize(downloaded))
	return nil
}

// downloadFile downloads a URL to the destination path with progress.
func downloadFile(url, destPath string) error {
	fmt.Fprintf(os.Stderr, "  Downloading %s...\n", filepath.Base(destPath))

	client := &http.Client{Timeout: 30 * time.Minute}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP error: %s", resp.Status)
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	var downloaded int64
	pw := &progressWriter{
		total:      resp.ContentLength,
		downloaded: &downloaded,
		lastPrint:  time.Now(),
	}

	_, err = io.Copy(f, io.TeeReader(resp.Body, pw))
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("download failed: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename file: %w", err)
	}

	fmt.Fprintf(os.Stderr, "    Done: %s\n", formatSize(downloaded))
	return nil
}

// progressWriter tracks download progress on stderr.
type progressWriter struct {
	total      int64
	downloaded *int64
	lastPrint  time.Time
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n := len(p)
	*pw.downloaded += int64(n)

	// Print progress every second
	if time.Since(pw.lastPrint) > time.Second {
		if pw.total > 0 {
			pct := float64(*pw.downloaded) / float64(pw.total) * 100
			fmt.Fprintf(os.Stderr, "\r    Progress: %s / %s (%.1f%%)  ",
				formatSize(*pw.downloaded), formatSize(pw.total), pct)
		} else {
			fmt.Fprintf(os.Stderr, "\r    Progress: %s  ", formatSize(*pw.downloaded))
		}
		pw.lastPrint = time.Now()
	}

	return n, nil
}

// formatSize formats bytes as human-readable size.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
