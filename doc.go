// Package mmt serves neural machine translation requests: it selects and
// loads the checkpoint of a language pair, optionally adapts the model to a
// few example translations, decodes or force-decodes the segments and turns
// attention into word alignments.
//
// # Quick Start
//
//	dec, err := mmt.Open("/models/engine")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dec.Close()
//
//	out, err := dec.Translate(ctx, "en", "it", []string{"hello world"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(out[0].Text, out[0].Alignment)
//
// # Adaptation
//
// Suggestions passed with WithSuggestions fine-tune the shared model before
// decoding. The tuned weights stay in place until the next request resets
// them from the cached checkpoint.
//
// # Thread Safety
//
// A Decoder owns one model and serves one request at a time; concurrent calls
// to Translate are serialized. Use a Pool to translate concurrently, one model
// per pooled Decoder.
//
// # Model Directory
//
// A model directory holds model.yaml and one directory per language pair:
//
//	engine/
//	  model.yaml        settings and models sections
//	  en__it/
//	    checkpoint.yaml weights, vocabulary, decode length statistics
//	    model.onnx
//	    model.spm
package mmt
