// Comfydrive runs ComfyUI workflow templates without a human at the graph editor.
// It finds the prompt, sampler, latent and image nodes of an API-format template,
// writes a caller's prompt, seed and input image into a copy of it, and drives the
// resulting job on a ComfyUI server until an image comes back or the job fails.
//
// The graphapi package holds the graph model and role classification, workflow
// loads and prepares templates, client talks to the server and orchestrates jobs,
// and cmd/comfydrive is the command line front end.
package comfydrive
