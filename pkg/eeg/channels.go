package eeg

// NumChannels is the canonical channel count used system-wide.
const NumChannels = 48

// manifest lists the 48 canonical electrode names in acquisition order.
// This is the single source of truth for channel selection and ordering;
// downstream tensors index channels by position in this list.
//
// The first 32 names follow the BioSemi 32-channel cap layout; the
// remaining 16 extend it from the 64-channel montage.
var manifest = [NumChannels]string{
	"Fp1", "AF3", "F7", "F3", "FC1", "FC5", "T7", "C3",
	"CP1", "CP5", "P7", "P3", "Pz", "PO3", "O1", "Oz",
	"O2", "PO4", "P4", "P8", "CP6", "CP2", "C4", "T8",
	"FC6", "FC2", "F4", "F8", "AF4", "Fp2", "Fz", "Cz",
	"AF7", "AF8", "F5", "F1", "F2", "F6", "FT7", "FC3",
	"FCz", "FC4", "FT8", "C5", "C1", "C2", "C6", "CPz",
}

// Manifest returns a copy of the canonical channel name list.
func Manifest() []string {
	out := make([]string, NumChannels)
	copy(out, manifest[:])
	return out
}

// ChannelIndex returns the manifest position of name, or -1 if the name
// is not a canonical channel.
func ChannelIndex(name string) int {
	for i, n := range manifest {
		if n == name {
			return i
		}
	}
	return -1
}
