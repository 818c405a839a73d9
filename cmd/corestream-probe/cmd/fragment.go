package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/streamcore/corestream/internal/isobmff"
	"github.com/streamcore/corestream/internal/mpegts"
)

var fragmentInitPath string

var fragmentCmd = &cobra.Command{
	Use:   "fragment <path>",
	Short: "Walk a fragment file and print its box or packet structure",
	Long: `Detects whether the file is ISOBMFF (fMP4 moof/mdat) or MPEG-TS and
prints a structural walk: track info and sample counts for ISOBMFF, or
PAT/PMT/PCR summaries for MPEG-TS.

Pass --init to decode track timescales and codec info from a separate
initialization segment before walking an ISOBMFF media segment.`,
	Args: cobra.ExactArgs(1),
	RunE: runFragment,
}

func init() {
	fragmentCmd.Flags().StringVar(&fragmentInitPath, "init", "", "initialization segment (required for ISOBMFF track info)")
	rootCmd.AddCommand(fragmentCmd)
}

func runFragment(_ *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading fragment: %w", err)
	}

	if offset, ok := mpegts.Detect(data); ok {
		return probeMPEGTS(data[offset:])
	}
	return probeISOBMFF(data)
}

func probeMPEGTS(data []byte) error {
	p := mpegts.NewProbe()
	if err := p.Scan(data, 0); err != nil {
		return fmt.Errorf("scanning MPEG-TS packets: %w", err)
	}
	fmt.Println("format: MPEG-TS")
	fmt.Printf("packets scanned: %d\n", len(data)/mpegts.PacketSize)
	if p.FirstPCR >= 0 {
		fmt.Printf("pcr range: %dns .. %dns (span %dns)\n", p.FirstPCR, p.LastPCR, p.LastPCR-p.FirstPCR)
	} else {
		fmt.Println("pcr: none observed")
	}
	return nil
}

func probeISOBMFF(data []byte) error {
	fmt.Println("format: ISOBMFF")

	if fragmentInitPath != "" {
		initData, err := os.ReadFile(fragmentInitPath)
		if err != nil {
			return fmt.Errorf("reading init segment: %w", err)
		}
		tracks, err := isobmff.ParseInit(initData)
		if err != nil {
			return fmt.Errorf("parsing init segment: %w", err)
		}
		for _, t := range tracks {
			fmt.Printf("track %d: timescale=%d h264=%t h265=%t nal_length_size=%d\n",
				t.ID, t.Timescale, t.IsH264, t.IsH265, t.NALLengthSize)
		}
	}

	walker := isobmff.NewWalker()
	fragments, sidxs, uuids, err := walker.Push(data)
	if err != nil {
		return fmt.Errorf("walking fragment: %w", err)
	}

	for _, frag := range fragments {
		if frag.Moof != nil {
			fmt.Printf("moof at offset=%d size=%d trafs=%d\n", frag.Moof.Offset, frag.Moof.Size, len(frag.Moof.Trafs))
			for _, traf := range frag.Moof.Trafs {
				fmt.Printf("  traf track=%d base_decode_time=%d samples=%d trex_fallback=%t\n",
					traf.TrackID, traf.BaseDecodeTime, len(traf.Samples), traf.TrexFallback)
			}
			continue
		}
		fmt.Printf("  mdat payload: %d bytes at offset %d\n", len(frag.Mdat), frag.MdatStart)
	}
	for _, sidx := range sidxs {
		fmt.Printf("sidx: %+v\n", sidx)
	}
	for _, uuid := range uuids {
		fmt.Printf("uuid box: %+v\n", uuid)
	}

	if len(fragments) == 0 && len(sidxs) == 0 && len(uuids) == 0 {
		fmt.Println("no complete moof/mdat, sidx, or uuid box found (fragment may be truncated)")
	}
	return nil
}
